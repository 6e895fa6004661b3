// Package gateway turns synchronous HTTP requests into correlated
// command/response pairs over the durable stream. It holds no financial
// state; authentication and signup live outside this service.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openfutures/margind/internal/domain"
	"github.com/openfutures/margind/internal/stream"
	"github.com/openfutures/margind/pkg/id"
)

// Transport is the slice of the stream contract the gateway needs.
type Transport interface {
	stream.CommandPublisher
	stream.ResponseReader
}

// Server is the HTTP facade over the command stream.
type Server struct {
	Addr      string
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger
}

// NewServer creates the gateway server.
func NewServer(addr string, transport Transport, timeout time.Duration, logger *zap.Logger) (*Server, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Addr: addr, transport: transport, timeout: timeout, logger: logger}, nil
}

// Handler builds the gateway's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/trade/create", s.handleCreate)
	mux.HandleFunc("POST /api/v1/trade/close", s.handleClose)
	mux.HandleFunc("GET /api/v1/balance", s.handleBalance(domain.ActionCheckBalance))
	mux.HandleFunc("GET /api/v1/balance_usd", s.handleBalance(domain.ActionCheckUSDBalance))
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
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

type createRequest struct {
	Asset    string `json:"asset"`
	Type     string `json:"type"`
	Margin   string `json:"margin"`
	Leverage string `json:"leverage"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Asset == "" || req.Type == "" || req.Margin == "" || req.Leverage == "" {
		writeMessage(w, http.StatusBadRequest, "asset, type, margin and leverage are required")
		return
	}

	orderID := id.New()
	s.sendAndAwait(w, r.Context(), orderID, map[string]string{
		"action":   string(domain.ActionCreateOrder),
		"orderId":  orderID,
		"asset":    req.Asset,
		"type":     req.Type,
		"margin":   req.Margin,
		"leverage": req.Leverage,
	})
}

type closeRequest struct {
	OrderID string `json:"orderId"`
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrderID == "" {
		writeMessage(w, http.StatusBadRequest, "orderId is required")
		return
	}

	s.sendAndAwait(w, r.Context(), req.OrderID, map[string]string{
		"action":  string(domain.ActionCloseOrder),
		"orderId": req.OrderID,
	})
}

func (s *Server) handleBalance(action domain.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID := id.New()
		s.sendAndAwait(w, r.Context(), orderID, map[string]string{
			"action":  string(action),
			"orderId": orderID,
		})
	}
}

// sendAndAwait captures the response stream tail, publishes the command and
// blocks until the correlated response arrives or the timeout elapses.
func (s *Server) sendAndAwait(w http.ResponseWriter, ctx context.Context, orderID string, values map[string]string) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// the cursor must be taken before publishing, otherwise a fast engine
	// response could land before the first read and be missed
	cursor, err := s.transport.LastResponseID(ctx)
	if err != nil {
		s.logger.Error("response stream unavailable", zap.Error(err))
		writeMessage(w, http.StatusBadGateway, "engine unavailable")
		return
	}

	if err := s.transport.PublishCommand(ctx, values); err != nil {
		s.logger.Error("command publish failed",
			zap.String("order_id", orderID),
			zap.Error(err))
		writeMessage(w, http.StatusBadGateway, "engine unavailable")
		return
	}

	for {
		entries, next, err := s.transport.ReadResponses(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				writeMessage(w, http.StatusGatewayTimeout, "timeout: no response from engine")
				return
			}
			s.logger.Warn("response read failed", zap.Error(err))
			continue
		}
		cursor = next

		for _, entry := range entries {
			if entry.OrderID != orderID {
				continue
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{"message": entry.Payload})
			return
		}

		if ctx.Err() != nil {
			writeMessage(w, http.StatusGatewayTimeout, "timeout: no response from engine")
			return
		}
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
