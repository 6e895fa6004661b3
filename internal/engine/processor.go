// Package engine interprets inbound commands against the ledger and price
// cache and drives the stream consumer loop.
package engine

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/openfutures/margind/internal/domain"
	"github.com/openfutures/margind/internal/ledger"
	"github.com/openfutures/margind/internal/pricecache"
)

// Result is one response ready to publish, correlated by order id.
type Result struct {
	OrderID string
	Payload []byte
}

// Processor applies one command at a time to the ledger and price cache.
// Handlers are single atomic in-memory mutations: a command is either fully
// applied or answered with a structured error, never half done.
type Processor struct {
	ledger    *ledger.Ledger
	cache     *pricecache.Cache
	evaluator *ledger.Evaluator
	logger    *zap.Logger
	clock     func() time.Time
}

// NewProcessor creates a command processor over the given state.
func NewProcessor(l *ledger.Ledger, cache *pricecache.Cache, evaluator *ledger.Evaluator, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		ledger:    l,
		cache:     cache,
		evaluator: evaluator,
		logger:    logger,
		clock:     time.Now,
	}
}

// Process dispatches the command and returns the responses to publish. A
// price update yields no response unless it liquidates positions.
func (p *Processor) Process(cmd domain.Command) []Result {
	switch cmd.Action {
	case domain.ActionCreateOrder:
		return []Result{p.createOrder(*cmd.Create)}
	case domain.ActionCloseOrder:
		return []Result{p.closeOrder(*cmd.Close)}
	case domain.ActionCheckBalance:
		return []Result{p.checkBalance(*cmd.Query, false)}
	case domain.ActionCheckUSDBalance:
		return []Result{p.checkBalance(*cmd.Query, true)}
	case domain.ActionUpdatedPrice:
		return p.updatePrice(*cmd.Price)
	default:
		// unreachable: DecodeCommand rejects unknown actions
		return nil
	}
}

func (p *Processor) createOrder(cmd domain.CreateOrder) Result {
	mark, ok := p.cache.Price(cmd.Asset)
	if !ok {
		p.logger.Warn("create rejected, no mark price",
			zap.String("order_id", cmd.OrderID),
			zap.String("asset", cmd.Asset))
		return errorResult(cmd.OrderID, domain.ReasonNoPrice)
	}

	position, err := p.ledger.Create(cmd, mark, p.clock())
	if err != nil {
		reason := domain.ReasonInsufficientFunds
		if errors.Is(err, ledger.ErrDuplicateOrder) {
			reason = domain.ReasonDuplicateOrder
		}
		p.logger.Warn("create rejected",
			zap.String("order_id", cmd.OrderID),
			zap.Error(err))
		return errorResult(cmd.OrderID, reason)
	}

	p.logger.Info("order created",
		zap.String("order_id", position.OrderID),
		zap.String("asset", position.Asset),
		zap.String("side", position.Side.String()),
		zap.String("margin", position.Margin.String()),
		zap.String("entry_price", position.EntryPrice.String()),
		zap.String("balance", p.ledger.Balance().String()))

	return marshalResult(cmd.OrderID, domain.OrderCreated{
		Status:  domain.StatusSuccess,
		Order:   position,
		Balance: p.ledger.Balance(),
	})
}

func (p *Processor) closeOrder(cmd domain.CloseOrder) Result {
	position, ok := p.ledger.Position(cmd.OrderID)
	if !ok {
		return errorResult(cmd.OrderID, domain.ReasonOrderNotFound)
	}

	// close settles at the current mark, not the tick that prompted the
	// caller; a position whose mark never moved settles at entry.
	mark, ok := p.cache.Price(position.Asset)
	if !ok {
		mark = position.EntryPrice
	}

	pnl, balance, err := p.ledger.Close(cmd.OrderID, mark)
	if err != nil {
		return errorResult(cmd.OrderID, domain.ReasonOrderNotFound)
	}

	p.logger.Info("order closed",
		zap.String("order_id", cmd.OrderID),
		zap.String("profit", pnl.String()),
		zap.String("balance", balance.String()))

	return marshalResult(cmd.OrderID, domain.OrderClosed{
		Status:  domain.StatusClosed,
		OrderID: cmd.OrderID,
		Balance: balance,
		Profit:  pnl,
	})
}

func (p *Processor) checkBalance(cmd domain.BalanceQuery, usd bool) Result {
	if usd {
		return marshalResult(cmd.OrderID, domain.USDBalanceReport{USDBalance: p.ledger.Balance()})
	}
	return marshalResult(cmd.OrderID, domain.BalanceReport{Balance: p.ledger.Balance()})
}

func (p *Processor) updatePrice(update domain.PriceUpdate) []Result {
	p.cache.Update(pricecache.Tick{
		Symbol:     update.Symbol,
		Price:      update.Price,
		ObservedAt: update.ObservedAt,
	})

	liquidations := p.evaluator.Sweep(update.Symbol, update.Price)
	if len(liquidations) == 0 {
		return nil
	}

	results := make([]Result, 0, len(liquidations))
	for _, liq := range liquidations {
		results = append(results, marshalResult(liq.OrderID, domain.PositionLiquidated{
			Status:           domain.StatusLiquidated,
			OrderID:          liq.OrderID,
			Symbol:           liq.Symbol,
			EntryPrice:       liq.EntryPrice,
			LiquidationPrice: liq.LiquidationPrice,
			Balance:          liq.Balance,
		}))
	}
	return results
}

func errorResult(orderID, reason string) Result {
	return marshalResult(orderID, domain.OrderError{Status: domain.StatusError, Reason: reason})
}

func marshalResult(orderID string, payload any) Result {
	data, err := json.Marshal(payload)
	if err != nil {
		// all payload types marshal cleanly; this guards future edits
		data = []byte(`{"status":"error","reason":"internal encoding failure"}`)
	}
	return Result{OrderID: orderID, Payload: data}
}
