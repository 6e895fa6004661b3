// Package ingest translates an exchange's public book-ticker websocket feed
// into UPDATED_PRICE command entries. It holds no ledger state.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openfutures/margind/internal/domain"
	"github.com/openfutures/margind/internal/stream"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	maxBackoff       = 30 * time.Second
)

// Transport is the slice of the stream contract the ingester needs.
type Transport interface {
	stream.CommandPublisher
	stream.PriceBroadcaster
}

// Feed maintains the websocket subscription and republishes normalized
// ticks: durably onto the command stream, lossily onto the price channel.
type Feed struct {
	url       string
	symbols   []string
	transport Transport
	logger    *zap.Logger
}

// NewFeed creates a price feed ingester.
func NewFeed(url string, symbols []string, transport Transport, logger *zap.Logger) (*Feed, error) {
	if url == "" {
		return nil, errors.New("feed url is required")
	}
	if len(symbols) == 0 {
		return nil, errors.New("at least one symbol is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{url: url, symbols: symbols, transport: transport, logger: logger}, nil
}

// Run dials and reads until ctx is cancelled, reconnecting with backoff.
func (f *Feed) Run(ctx context.Context) error {
	retry := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, err := f.connect(ctx)
		if err != nil {
			delay := backoff(retry)
			retry++
			f.logger.Warn("feed connect failed",
				zap.Error(err),
				zap.Duration("retry_in", delay))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}

		retry = 0
		f.logger.Info("feed connected", zap.String("url", f.url))
		f.read(ctx, conn)
		_ = conn.Close()
	}
}

func (f *Feed) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial feed")
	}

	params := make([]string, 0, len(f.symbols))
	for _, symbol := range f.symbols {
		params = append(params, fmt.Sprintf("bookTicker.%s", symbol))
	}
	sub := map[string]any{"method": "SUBSCRIBE", "params": params}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "subscribe")
	}

	return conn, nil
}

// bookTicker is the feed's wire shape.
type bookTicker struct {
	Data struct {
		Symbol string `json:"s"`
		Bid    string `json:"b"`
		Ask    string `json:"a"`
	} `json:"data"`
}

// tickPayload is what lands in the command entry's data field and on the
// price channel.
type tickPayload struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
}

func (f *Feed) read(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warn("feed read failed", zap.Error(err))
			}
			return
		}

		var ticker bookTicker
		if err := json.Unmarshal(raw, &ticker); err != nil || ticker.Data.Symbol == "" {
			continue // heartbeats and subscription acks
		}

		if err := f.publish(ctx, ticker); err != nil {
			f.logger.Warn("tick publish failed",
				zap.String("symbol", ticker.Data.Symbol),
				zap.Error(err))
		}
	}
}

func (f *Feed) publish(ctx context.Context, ticker bookTicker) error {
	payload, err := json.Marshal(tickPayload{
		Symbol: ticker.Data.Symbol,
		Bid:    ticker.Data.Bid,
		Ask:    ticker.Data.Ask,
	})
	if err != nil {
		return errors.Wrap(err, "marshal tick")
	}

	if err := f.transport.PublishCommand(ctx, map[string]string{
		"action": string(domain.ActionUpdatedPrice),
		"data":   string(payload),
	}); err != nil {
		return err
	}

	// display fan-out is best effort; the durable write above is what the
	// engine settles on
	if err := f.transport.PublishPrice(ctx, payload); err != nil {
		f.logger.Debug("price broadcast failed", zap.Error(err))
	}
	return nil
}

func backoff(retry int) time.Duration {
	delay := time.Second << uint(retry)
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}
