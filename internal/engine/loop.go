package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openfutures/margind/internal/domain"
	"github.com/openfutures/margind/internal/ledger"
	"github.com/openfutures/margind/internal/pricecache"
	"github.com/openfutures/margind/internal/snapshot"
	"github.com/openfutures/margind/internal/stream"
	"github.com/openfutures/margind/pkg/retrier"
)

// State of the consumer loop.
type State int

const (
	StateStarting State = iota
	StateConsuming
	StateDraining
	StateStopped
)

// Loop is the top-level driver: it drains the command stream strictly in
// arrival order, dispatches each entry, publishes the correlated response and
// acknowledges the entry only after the publish succeeded. Checkpoints run
// between dispatch iterations, never concurrently with a mutation.
type Loop struct {
	consumer    stream.Consumer
	publisher   stream.Publisher
	processor   *Processor
	ledger      *ledger.Ledger
	cache       *pricecache.Cache
	checkpoints *snapshot.Store
	interval    time.Duration
	retrier     *retrier.Retrier
	logger      *zap.Logger

	state       State
	lastAckedID string
}

// LoopConfig wires the loop's collaborators.
type LoopConfig struct {
	Consumer         stream.Consumer
	Publisher        stream.Publisher
	Processor        *Processor
	Ledger           *ledger.Ledger
	Cache            *pricecache.Cache
	Checkpoints      *snapshot.Store
	SnapshotInterval time.Duration
	Retrier          *retrier.Retrier
	Logger           *zap.Logger
	// LastAckedID seeds checkpoint records before the first ack, typically
	// from the checkpoint the engine booted from.
	LastAckedID string
}

// NewLoop creates the consumer loop.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Consumer == nil || cfg.Publisher == nil || cfg.Processor == nil {
		return nil, errors.New("consumer, publisher and processor are required")
	}
	if cfg.Ledger == nil || cfg.Cache == nil {
		return nil, errors.New("ledger and price cache are required")
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 5 * time.Second
	}
	if cfg.Retrier == nil {
		cfg.Retrier = retrier.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Loop{
		consumer:    cfg.Consumer,
		publisher:   cfg.Publisher,
		processor:   cfg.Processor,
		ledger:      cfg.Ledger,
		cache:       cfg.Cache,
		checkpoints: cfg.Checkpoints,
		interval:    cfg.SnapshotInterval,
		retrier:     cfg.Retrier,
		logger:      cfg.Logger,
		state:       StateStarting,
		lastAckedID: cfg.LastAckedID,
	}, nil
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() State {
	return l.state
}

// Run consumes until ctx is cancelled, then drains: a final checkpoint is
// written before the loop stops.
func (l *Loop) Run(ctx context.Context) error {
	l.state = StateConsuming
	l.logger.Info("consumer loop started")

	nextCheckpoint := time.Now().Add(l.interval)

	for {
		select {
		case <-ctx.Done():
			return l.drain()
		default:
		}

		entries, err := l.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return l.drain()
			}
			// resource unavailability: log and poll again
			l.logger.Warn("stream read failed", zap.Error(err))
			continue
		}

		for _, entry := range entries {
			if err := l.handle(ctx, entry); err != nil {
				if ctx.Err() != nil {
					return l.drain()
				}
				// publish kept failing; leave the entry unacked so the
				// group redelivers it
				l.logger.Error("entry abandoned unacked",
					zap.String("entry_id", entry.ID),
					zap.Error(err))
			}
		}

		if time.Now().After(nextCheckpoint) {
			l.checkpoint()
			nextCheckpoint = time.Now().Add(l.interval)
		}
	}
}

// handle dispatches one entry: decode, process, publish every response, ack.
func (l *Loop) handle(ctx context.Context, entry stream.Entry) error {
	cmd, err := domain.DecodeCommand(entry.Values, time.Now())
	if err != nil {
		if errors.Is(err, domain.ErrUnknownAction) {
			l.logger.Warn("unknown action, entry acknowledged without effect",
				zap.String("entry_id", entry.ID),
				zap.String("action", entry.Values["action"]))
			return l.ack(ctx, entry.ID)
		}

		l.logger.Warn("malformed command",
			zap.String("entry_id", entry.ID),
			zap.Error(err))
		// answer the originator when the entry is at least correlatable
		if orderID := entry.Values["orderId"]; orderID != "" {
			result := errorResult(orderID, err.Error())
			if err := l.publish(ctx, result); err != nil {
				return err
			}
		}
		return l.ack(ctx, entry.ID)
	}

	for _, result := range l.processor.Process(cmd) {
		if err := l.publish(ctx, result); err != nil {
			return err
		}
	}

	return l.ack(ctx, entry.ID)
}

// publish retries the response append; the underlying mutation already
// committed, so retrying the same computed payload is safe.
func (l *Loop) publish(ctx context.Context, result Result) error {
	return l.retrier.Do(ctx, func(ctx context.Context) error {
		return l.publisher.Respond(ctx, result.OrderID, result.Payload)
	})
}

func (l *Loop) ack(ctx context.Context, id string) error {
	if err := l.consumer.Ack(ctx, id); err != nil {
		return errors.Wrap(err, "ack entry")
	}
	l.lastAckedID = id
	return nil
}

// checkpoint serializes ledger and price cache between dispatch iterations.
func (l *Loop) checkpoint() {
	if l.checkpoints == nil {
		return
	}

	record := snapshot.Record{
		Balance:     l.ledger.Balance(),
		Positions:   l.ledger.Positions(),
		Prices:      l.cache.Marks(),
		Window:      l.cache.History(pricecache.CheckpointWindow),
		LastAckedID: l.lastAckedID,
		TakenAt:     time.Now(),
	}
	if err := l.checkpoints.Save(record); err != nil {
		l.logger.Error("checkpoint failed", zap.Error(err))
		return
	}

	l.logger.Debug("checkpoint written",
		zap.String("balance", record.Balance.String()),
		zap.Int("positions", len(record.Positions)),
		zap.String("last_acked_id", record.LastAckedID))
}

func (l *Loop) drain() error {
	l.state = StateDraining
	l.logger.Info("consumer loop draining")
	l.checkpoint()
	l.state = StateStopped
	l.logger.Info("consumer loop stopped")
	return nil
}
