// Command priceingest subscribes to an exchange book-ticker feed and turns
// it into UPDATED_PRICE entries on the command stream.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/openfutures/margind/config"
	"github.com/openfutures/margind/internal/ingest"
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

	transport, err := stream.NewRedis(ctx, stream.RedisConfig{
		Addr:           cfg.RedisAddr,
		CommandStream:  cfg.CommandStream,
		ConsumerGroup:  cfg.ConsumerGroup,
		ResponseStream: cfg.ResponseStream,
		PriceChannel:   cfg.PriceChannel,
		ReadBlock:      cfg.ReadBlock,
		BatchSize:      cfg.BatchSize,
	})
	if err != nil {
		logger.Fatal("failed to connect to stream backend", zap.Error(err))
	}
	defer transport.Close()

	feed, err := ingest.NewFeed(cfg.FeedURL, cfg.FeedSymbols, transport, logger)
	if err != nil {
		logger.Fatal("failed to build feed", zap.Error(err))
	}

	logger.Info("price ingester started",
		zap.String("url", cfg.FeedURL),
		zap.Strings("symbols", cfg.FeedSymbols))
	if err := feed.Run(ctx); err != nil {
		logger.Fatal("feed failed", zap.Error(err))
	}
}
