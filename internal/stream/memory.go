package stream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process transport with the same at-least-once semantics as
// the Redis implementation. It backs tests and local runs without a broker.
type Memory struct {
	mu        sync.Mutex
	cond      *sync.Cond
	commands  []Entry
	cursor    int
	pending   map[string]Entry
	acked     []string
	responses []ResponseEntry
	prices    [][]byte
	nextID    int
	block     time.Duration
	batch     int
}

// NewMemory creates an in-memory transport. block bounds how long Read waits
// for new entries.
func NewMemory(block time.Duration, batch int) *Memory {
	if block <= 0 {
		block = 50 * time.Millisecond
	}
	if batch <= 0 {
		batch = 10
	}
	m := &Memory{
		pending: make(map[string]Entry),
		block:   block,
		batch:   batch,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// PublishCommand appends a command entry.
func (m *Memory) PublishCommand(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	m.commands = append(m.commands, Entry{ID: fmt.Sprintf("%d-0", m.nextID), Values: copied})
	m.cond.Broadcast()
	return nil
}

// Read returns the next undelivered batch, waiting up to the block interval.
func (m *Memory) Read(ctx context.Context) ([]Entry, error) {
	deadline := time.Now().Add(m.block)

	m.mu.Lock()
	defer m.mu.Unlock()

	for m.cursor >= len(m.commands) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		// cond has no timed wait; poll on a short tick
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		m.mu.Lock()
	}

	end := m.cursor + m.batch
	if end > len(m.commands) {
		end = len(m.commands)
	}
	batch := make([]Entry, end-m.cursor)
	copy(batch, m.commands[m.cursor:end])
	for _, e := range batch {
		m.pending[e.ID] = e
	}
	m.cursor = end
	return batch, nil
}

// Ack marks delivered entries as processed.
func (m *Memory) Ack(_ context.Context, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.pending, id)
		m.acked = append(m.acked, id)
	}
	return nil
}

// Redeliver rewinds the cursor so unacked entries are read again, modelling a
// crash between mutation and acknowledgment.
func (m *Memory) Redeliver() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return
	}
	first := len(m.commands)
	for id := range m.pending {
		for i, e := range m.commands {
			if e.ID == id && i < first {
				first = i
			}
		}
	}
	m.cursor = first
	m.pending = make(map[string]Entry)
}

// Respond appends a response entry.
func (m *Memory) Respond(_ context.Context, orderID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.responses = append(m.responses, ResponseEntry{
		ID:      fmt.Sprintf("%d-0", m.nextID),
		OrderID: orderID,
		Payload: append([]byte(nil), payload...),
	})
	return nil
}

// LastResponseID returns the tail of the response stream.
func (m *Memory) LastResponseID(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return "0", nil
	}
	return m.responses[len(m.responses)-1].ID, nil
}

// ReadResponses returns responses appended after the cursor.
func (m *Memory) ReadResponses(ctx context.Context, cursor string) ([]ResponseEntry, string, error) {
	deadline := time.Now().Add(m.block)
	for {
		m.mu.Lock()
		var out []ResponseEntry
		for _, r := range m.responses {
			if streamIDAfter(r.ID, cursor) {
				out = append(out, r)
				cursor = r.ID
			}
		}
		m.mu.Unlock()

		if len(out) > 0 || time.Now().After(deadline) || ctx.Err() != nil {
			return out, cursor, nil
		}
		time.Sleep(time.Millisecond)
	}
}

// PublishPrice records a price payload for subscribers.
func (m *Memory) PublishPrice(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices = append(m.prices, append([]byte(nil), payload...))
	return nil
}

// Responses returns a copy of all published responses.
func (m *Memory) Responses() []ResponseEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ResponseEntry, len(m.responses))
	copy(out, m.responses)
	return out
}

// Acked returns ids acknowledged so far, in order.
func (m *Memory) Acked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.acked))
	copy(out, m.acked)
	return out
}

func streamIDAfter(id, cursor string) bool {
	if cursor == "" || cursor == "0" || cursor == "$" {
		return cursor != "$"
	}
	var idSeq, curSeq, idOff, curOff int
	fmt.Sscanf(id, "%d-%d", &idSeq, &idOff)
	fmt.Sscanf(cursor, "%d-%d", &curSeq, &curOff)
	if idSeq != curSeq {
		return idSeq > curSeq
	}
	return idOff > curOff
}
