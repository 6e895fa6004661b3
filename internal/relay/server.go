// Package relay fans the latest price map out to subscribed websocket
// clients on a fixed cadence. It never touches ledger state.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openfutures/margind/internal/stream"
)

// Server subscribes to the price channel, keeps the most recent payload per
// symbol and broadcasts the whole map to every connected client.
type Server struct {
	Addr     string
	prices   stream.PriceSubscriber
	period   time.Duration
	logger   *zap.Logger
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]struct{}
	latest   map[string]json.RawMessage
}

// NewServer creates the relay server.
func NewServer(addr string, prices stream.PriceSubscriber, period time.Duration, logger *zap.Logger) (*Server, error) {
	if prices == nil {
		return nil, errors.New("price subscriber is required")
	}
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:    addr,
		prices:  prices,
		period:  period,
		logger:  logger,
		clients: make(map[*websocket.Conn]struct{}),
		latest:  make(map[string]json.RawMessage),
	}, nil
}

// Start runs the websocket endpoint and the broadcast ticker until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	updates, err := s.prices.SubscribePrices(ctx)
	if err != nil {
		return errors.Wrap(err, "subscribe prices")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.collect(ctx, updates)
		return nil
	})
	g.Go(func() error {
		s.broadcast(ctx)
		return nil
	})
	g.Go(func() error {
		return s.serve(ctx)
	})
	return g.Wait()
}

func (s *Server) serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	// drain control frames; the relay is write-only
	go func() {
		defer s.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type priceTick struct {
	Symbol string `json:"symbol"`
}

func (s *Server) collect(ctx context.Context, updates <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-updates:
			if !ok {
				return
			}
			var tick priceTick
			if err := json.Unmarshal(payload, &tick); err != nil || tick.Symbol == "" {
				continue
			}
			s.mu.Lock()
			s.latest[tick.Symbol] = json.RawMessage(payload)
			s.mu.Unlock()
		}
	}
}

// broadcast writes the latest map to every client once per period. Writes
// happen only on this goroutine, so no per-connection write lock is needed.
func (s *Server) broadcast(ctx context.Context) {
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		if len(s.latest) == 0 || len(s.clients) == 0 {
			s.mu.Unlock()
			continue
		}
		payload, err := json.Marshal(s.latest)
		conns := make([]*websocket.Conn, 0, len(s.clients))
		for conn := range s.clients {
			conns = append(conns, conn)
		}
		s.mu.Unlock()

		if err != nil {
			continue
		}
		for _, conn := range conns {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.drop(conn)
			}
		}
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	_ = conn.Close()
}
