// Package pricecache holds the latest mark price per instrument plus a
// bounded trailing window of raw ticks kept for diagnostics.
package pricecache

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultWindowCap bounds the trailing tick window.
const DefaultWindowCap = 1000

// CheckpointWindow is how many trailing ticks survive into a checkpoint.
const CheckpointWindow = 100

// Tick is one observed price for an instrument.
type Tick struct {
	Symbol     string          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observedAt"`
}

// Cache is a last-write-wins mark price store. It is owned by the engine's
// consumer loop and must not be shared across goroutines.
type Cache struct {
	marks  map[string]Tick
	window []Tick
	cap    int
}

// New creates a cache whose trailing window holds at most windowCap ticks.
func New(windowCap int) *Cache {
	if windowCap <= 0 {
		windowCap = DefaultWindowCap
	}
	return &Cache{
		marks: make(map[string]Tick),
		cap:   windowCap,
	}
}

// Update upserts the mark price for the tick's symbol and appends the tick to
// the trailing window, evicting the oldest entry past capacity. Insertion
// order eviction, not LRU.
func (c *Cache) Update(tick Tick) {
	c.marks[tick.Symbol] = tick

	c.window = append(c.window, tick)
	if len(c.window) > c.cap {
		c.window = c.window[1:]
	}
}

// Price returns the current mark price for the symbol, if one was observed.
func (c *Cache) Price(symbol string) (decimal.Decimal, bool) {
	tick, ok := c.marks[symbol]
	return tick.Price, ok
}

// Marks returns a copy of the symbol -> mark price mapping.
func (c *Cache) Marks() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.marks))
	for symbol, tick := range c.marks {
		out[symbol] = tick.Price
	}
	return out
}

// History returns a copy of up to n most recent ticks, oldest first.
func (c *Cache) History(n int) []Tick {
	if n <= 0 || n > len(c.window) {
		n = len(c.window)
	}
	out := make([]Tick, n)
	copy(out, c.window[len(c.window)-n:])
	return out
}

// Restore replaces the mark map from a checkpoint.
func (c *Cache) Restore(marks map[string]decimal.Decimal, at time.Time) {
	c.marks = make(map[string]Tick, len(marks))
	for symbol, price := range marks {
		c.marks[symbol] = Tick{Symbol: symbol, Price: price, ObservedAt: at}
	}
}

// RestoreWindow seeds the trailing window from a checkpoint, keeping at most
// the cache's capacity of the newest ticks.
func (c *Cache) RestoreWindow(ticks []Tick) {
	if len(ticks) > c.cap {
		ticks = ticks[len(ticks)-c.cap:]
	}
	c.window = append(c.window[:0], ticks...)
}
