// Command engined runs the margin-trading settlement engine: it restores the
// last checkpoint, joins the command stream's consumer group and settles
// commands until stopped.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/openfutures/margind/config"
	"github.com/openfutures/margind/internal/engine"
	"github.com/openfutures/margind/internal/ledger"
	"github.com/openfutures/margind/internal/pricecache"
	"github.com/openfutures/margind/internal/snapshot"
	"github.com/openfutures/margind/internal/stream"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checkpoints, err := snapshot.NewStore(cfg.SnapshotDir)
	if err != nil {
		logger.Fatal("failed to open checkpoint store", zap.Error(err))
	}
	defer checkpoints.Close()

	record, err := checkpoints.Load()
	if err != nil {
		logger.Fatal("failed to load checkpoint", zap.Error(err))
	}

	book := ledger.New(cfg.StartingBalance)
	cache := pricecache.New(cfg.PriceWindow)

	groupStart := "0"
	lastAckedID := ""
	if record != nil {
		book.Restore(record.Balance, record.Positions)
		cache.Restore(record.Prices, record.TakenAt)
		cache.RestoreWindow(record.Window)
		if record.LastAckedID != "" {
			groupStart = record.LastAckedID
			lastAckedID = record.LastAckedID
		}
		logger.Info("state restored from checkpoint",
			zap.String("balance", record.Balance.String()),
			zap.Int("positions", len(record.Positions)),
			zap.Time("taken_at", record.TakenAt),
			zap.String("last_acked_id", record.LastAckedID))
	}

	transport, err := stream.NewRedis(ctx, stream.RedisConfig{
		Addr:           cfg.RedisAddr,
		CommandStream:  cfg.CommandStream,
		ConsumerGroup:  cfg.ConsumerGroup,
		ConsumerName:   cfg.ConsumerName,
		ResponseStream: cfg.ResponseStream,
		PriceChannel:   cfg.PriceChannel,
		Start:          groupStart,
		ReadBlock:      cfg.ReadBlock,
		BatchSize:      cfg.BatchSize,
	})
	if err != nil {
		logger.Fatal("failed to connect to stream backend", zap.Error(err))
	}
	defer transport.Close()

	evaluator := ledger.NewEvaluator(book, logger)
	processor := engine.NewProcessor(book, cache, evaluator, logger)

	loop, err := engine.NewLoop(engine.LoopConfig{
		Consumer:         transport,
		Publisher:        transport,
		Processor:        processor,
		Ledger:           book,
		Cache:            cache,
		Checkpoints:      checkpoints,
		SnapshotInterval: cfg.SnapshotInterval,
		Logger:           logger,
		LastAckedID:      lastAckedID,
	})
	if err != nil {
		logger.Fatal("failed to build consumer loop", zap.Error(err))
	}

	if err := loop.Run(ctx); err != nil {
		logger.Fatal("consumer loop failed", zap.Error(err))
	}
}
