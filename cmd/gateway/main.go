// Command gateway serves the synchronous HTTP trade API, bridging client
// requests onto the durable command stream and awaiting correlated engine
// responses.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/openfutures/margind/config"
	"github.com/openfutures/margind/internal/gateway"
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

	server, err := gateway.NewServer(cfg.GatewayAddr, transport, cfg.ResponseTimeout, logger)
	if err != nil {
		logger.Fatal("failed to build gateway", zap.Error(err))
	}

	logger.Info("gateway listening", zap.String("addr", cfg.GatewayAddr))
	if err := server.Start(ctx); err != nil {
		logger.Fatal("gateway failed", zap.Error(err))
	}
}
