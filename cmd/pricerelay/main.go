// Command pricerelay fans the latest price map out to browser clients over
// websockets.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/openfutures/margind/config"
	"github.com/openfutures/margind/internal/relay"
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

	server, err := relay.NewServer(cfg.RelayAddr, transport, cfg.BroadcastInterval, logger)
	if err != nil {
		logger.Fatal("failed to build relay", zap.Error(err))
	}

	logger.Info("price relay listening", zap.String("addr", cfg.RelayAddr))
	if err := server.Start(ctx); err != nil {
		logger.Fatal("relay failed", zap.Error(err))
	}
}
