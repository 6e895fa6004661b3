// Package snapshot checkpoints the full recoverable engine state into a WAL
// so a restart resumes from the last checkpoint instead of replaying history.
package snapshot

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/openfutures/margind/internal/domain"
	"github.com/openfutures/margind/internal/pricecache"
)

const (
	defaultDir       = "./wal/checkpoints"
	segmentThreshold = 1000
	maxSegments      = 100
	checkpointKey    = "engine_checkpoint"
)

// Record is the full recoverable state: ledger, price marks and the last
// acknowledged inbound stream id so the consumer group resumes past history
// already reflected here.
type Record struct {
	Balance     decimal.Decimal            `json:"balance"`
	Positions   []*domain.Position         `json:"positions"`
	Prices      map[string]decimal.Decimal `json:"prices"`
	Window      []pricecache.Tick          `json:"window,omitempty"`
	LastAckedID string                     `json:"lastAckedId"`
	TakenAt     time.Time                  `json:"takenAt"`
}

// Store persists checkpoints in a WAL. Writes happen on the snapshot cadence,
// reads only at startup.
type Store struct {
	wal *gowal.Wal
	mu  sync.Mutex
}

// NewStore initializes the checkpoint WAL under the provided directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = defaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "checkpoint_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init checkpoint WAL")
	}

	return &Store{wal: wal}, nil
}

// Save appends the checkpoint, superseding any previous one.
func (s *Store) Save(record Record) error {
	if s == nil || s.wal == nil {
		return errors.New("checkpoint store is not initialized")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, checkpointKey, payload)
}

// Load returns the most recent checkpoint, or nil when none was written yet.
func (s *Store) Load() (*Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("checkpoint store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var latest []byte
	for msg := range s.wal.Iterator() {
		if msg.Key == checkpointKey {
			latest = msg.Value
		}
	}
	if latest == nil {
		return nil, nil
	}

	var record Record
	if err := json.Unmarshal(latest, &record); err != nil {
		return nil, errors.Wrap(err, "decode checkpoint")
	}

	return &record, nil
}

// Close releases the underlying WAL.
func (s *Store) Close() error {
	if s == nil || s.wal == nil {
		return nil
	}
	return s.wal.Close()
}
