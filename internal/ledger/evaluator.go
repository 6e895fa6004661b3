package ledger

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Liquidation records one forced closure produced by a sweep.
type Liquidation struct {
	OrderID          string
	Symbol           string
	EntryPrice       decimal.Decimal
	LiquidationPrice decimal.Decimal
	Balance          decimal.Decimal
}

// Evaluator force-closes positions whose loss has consumed their margin.
type Evaluator struct {
	ledger *Ledger
	logger *zap.Logger
}

// NewEvaluator creates a liquidation evaluator over the given ledger.
func NewEvaluator(ledger *Ledger, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{ledger: ledger, logger: logger}
}

// Sweep scans every open position on the symbol against the new mark price
// and forfeits any that breached margin. It runs to completion before the
// loop advances to the next command, so a CLOSE arriving right after a
// liquidating tick observes the position already gone.
func (e *Evaluator) Sweep(symbol string, mark decimal.Decimal) []Liquidation {
	var liquidated []Liquidation

	for _, position := range e.ledger.PositionsOn(symbol) {
		if !position.Liquidatable(mark) {
			continue
		}

		// margin is forfeited in full, balance untouched
		if err := e.ledger.Forfeit(position.OrderID); err != nil {
			continue
		}

		liquidated = append(liquidated, Liquidation{
			OrderID:          position.OrderID,
			Symbol:           symbol,
			EntryPrice:       position.EntryPrice,
			LiquidationPrice: mark,
			Balance:          e.ledger.Balance(),
		})

		e.logger.Info("position liquidated",
			zap.String("order_id", position.OrderID),
			zap.String("symbol", symbol),
			zap.String("entry_price", position.EntryPrice.String()),
			zap.String("liquidation_price", mark.String()),
			zap.String("margin_forfeited", position.Margin.String()))
	}

	return liquidated
}
