package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Position represents one open leveraged bet. All fields are fixed at
// creation; a position is never mutated in place, only removed.
type Position struct {
	OrderID    string          `json:"orderId"`
	Asset      string          `json:"asset"`
	Side       Side            `json:"side"`
	Margin     decimal.Decimal `json:"margin"`
	Leverage   decimal.Decimal `json:"leverage"`
	EntryPrice decimal.Decimal `json:"entryPrice"`
	OpenedAt   time.Time       `json:"openedAt"`
}

// NewPosition constructs a position opened against the given mark price.
func NewPosition(orderID, asset string, side Side, margin, leverage, entryPrice decimal.Decimal, openedAt time.Time) (*Position, error) {
	if orderID == "" {
		return nil, errors.New("order id is required")
	}
	if asset == "" {
		return nil, errors.New("asset is required")
	}
	if margin.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("margin must be greater than zero")
	}
	if leverage.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("leverage must be greater than zero")
	}
	if entryPrice.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("entry price must be greater than zero")
	}

	return &Position{
		OrderID:    orderID,
		Asset:      asset,
		Side:       side,
		Margin:     margin,
		Leverage:   leverage,
		EntryPrice: entryPrice,
		OpenedAt:   openedAt,
	}, nil
}

// Notional returns margin * leverage, the effective position size.
func (p *Position) Notional() decimal.Decimal {
	return p.Margin.Mul(p.Leverage)
}

// Quantity returns the asset quantity the notional bought at entry.
func (p *Position) Quantity() decimal.Decimal {
	return p.Notional().Div(p.EntryPrice)
}

// PnL calculates profit and loss against the given mark price.
//
// for long positions: PnL = (mark - entryPrice) * quantity
// for short positions: PnL = (entryPrice - mark) * quantity
func (p *Position) PnL(mark decimal.Decimal) decimal.Decimal {
	if p.Side == SideShort {
		return p.EntryPrice.Sub(mark).Mul(p.Quantity())
	}
	return mark.Sub(p.EntryPrice).Mul(p.Quantity())
}

// Liquidatable reports whether the loss at the given mark has consumed the
// entire locked margin.
func (p *Position) Liquidatable(mark decimal.Decimal) bool {
	return p.PnL(mark).LessThanOrEqual(p.Margin.Neg())
}
