// Package ledger owns the trader's cash balance and open positions and
// enforces the margin lock/unlock arithmetic.
package ledger

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/openfutures/margind/internal/domain"
)

var (
	// ErrInsufficientFunds rejects a CREATE whose margin exceeds free cash.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrOrderNotFound rejects a CLOSE for an id with no open position.
	ErrOrderNotFound = errors.New("order not found")
	// ErrDuplicateOrder rejects a CREATE reusing a live order id. Redelivered
	// commands hit this instead of double-locking margin.
	ErrDuplicateOrder = errors.New("order already exists")
)

// Ledger is a single account: free cash plus open positions keyed by order
// id. It is exclusively owned by the engine's consumer loop; no locking.
type Ledger struct {
	balance   decimal.Decimal
	positions map[string]*domain.Position
	order     []string // insertion order, kept for deterministic snapshots
}

// New creates a ledger with the given starting balance.
func New(startingBalance decimal.Decimal) *Ledger {
	return &Ledger{
		balance:   startingBalance,
		positions: make(map[string]*domain.Position),
	}
}

// Balance returns the free cash balance.
func (l *Ledger) Balance() decimal.Decimal {
	return l.balance
}

// Create locks margin out of the balance and opens a position at the given
// mark price.
func (l *Ledger) Create(cmd domain.CreateOrder, mark decimal.Decimal, now time.Time) (*domain.Position, error) {
	if _, ok := l.positions[cmd.OrderID]; ok {
		return nil, errors.Wrapf(ErrDuplicateOrder, "order %s", cmd.OrderID)
	}
	if cmd.Margin.GreaterThan(l.balance) {
		return nil, errors.Wrapf(ErrInsufficientFunds, "margin %s exceeds balance %s", cmd.Margin, l.balance)
	}

	position, err := domain.NewPosition(cmd.OrderID, cmd.Asset, cmd.Side, cmd.Margin, cmd.Leverage, mark, now)
	if err != nil {
		return nil, errors.Wrap(err, "open position")
	}

	l.balance = l.balance.Sub(cmd.Margin)
	l.positions[cmd.OrderID] = position
	l.order = append(l.order, cmd.OrderID)

	return position, nil
}

// Close removes the position and returns its margin adjusted by PnL realized
// at the given mark price. It reports the realized PnL and the new balance.
func (l *Ledger) Close(orderID string, mark decimal.Decimal) (pnl, balance decimal.Decimal, err error) {
	position, ok := l.positions[orderID]
	if !ok {
		return decimal.Zero, l.balance, errors.Wrapf(ErrOrderNotFound, "order %s", orderID)
	}

	pnl = position.PnL(mark)
	l.balance = l.balance.Add(position.Margin).Add(pnl)
	l.remove(orderID)

	return pnl, l.balance, nil
}

// Forfeit removes the position without crediting anything back. This is the
// liquidation path: the locked margin is the loss cap.
func (l *Ledger) Forfeit(orderID string) error {
	if _, ok := l.positions[orderID]; !ok {
		return errors.Wrapf(ErrOrderNotFound, "order %s", orderID)
	}
	l.remove(orderID)
	return nil
}

// Position returns the open position for the id, if any.
func (l *Ledger) Position(orderID string) (*domain.Position, bool) {
	p, ok := l.positions[orderID]
	return p, ok
}

// Positions returns open positions in insertion order.
func (l *Ledger) Positions() []*domain.Position {
	out := make([]*domain.Position, 0, len(l.positions))
	for _, id := range l.order {
		if p, ok := l.positions[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// PositionsOn returns open positions on the given asset, insertion order.
func (l *Ledger) PositionsOn(asset string) []*domain.Position {
	var out []*domain.Position
	for _, id := range l.order {
		if p, ok := l.positions[id]; ok && p.Asset == asset {
			out = append(out, p)
		}
	}
	return out
}

// Restore replaces ledger state from a checkpoint.
func (l *Ledger) Restore(balance decimal.Decimal, positions []*domain.Position) {
	l.balance = balance
	l.positions = make(map[string]*domain.Position, len(positions))
	l.order = l.order[:0]
	for _, p := range positions {
		l.positions[p.OrderID] = p
		l.order = append(l.order, p.OrderID)
	}
}

func (l *Ledger) remove(orderID string) {
	delete(l.positions, orderID)
	for i, id := range l.order {
		if id == orderID {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}
