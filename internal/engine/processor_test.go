package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openfutures/margind/internal/domain"
	"github.com/openfutures/margind/internal/ledger"
	"github.com/openfutures/margind/internal/pricecache"
)

func newProcessor(t *testing.T, balance int64) (*Processor, *ledger.Ledger, *pricecache.Cache) {
	t.Helper()
	book := ledger.New(decimal.NewFromInt(balance))
	cache := pricecache.New(100)
	evaluator := ledger.NewEvaluator(book, zap.NewNop())
	return NewProcessor(book, cache, evaluator, zap.NewNop()), book, cache
}

func priceCmd(symbol string, price int64) domain.Command {
	return domain.Command{
		Action: domain.ActionUpdatedPrice,
		Price: &domain.PriceUpdate{
			Symbol:     symbol,
			Price:      decimal.NewFromInt(price),
			ObservedAt: time.Now(),
		},
	}
}

func createCmd(orderID string, margin, leverage int64) domain.Command {
	return domain.Command{
		Action: domain.ActionCreateOrder,
		Create: &domain.CreateOrder{
			OrderID:  orderID,
			Asset:    "SOL",
			Side:     domain.SideLong,
			Margin:   decimal.NewFromInt(margin),
			Leverage: decimal.NewFromInt(leverage),
		},
	}
}

func TestProcessor_CreateOrder(t *testing.T) {
	processor, book, _ := newProcessor(t, 5000)

	results := processor.Process(priceCmd("SOL", 50))
	assert.Empty(t, results) // no liquidations, no response

	results = processor.Process(createCmd("o1", 100, 10))
	require.Len(t, results, 1)
	assert.Equal(t, "o1", results[0].OrderID)

	var resp domain.OrderCreated
	require.NoError(t, json.Unmarshal(results[0].Payload, &resp))
	assert.Equal(t, domain.StatusSuccess, resp.Status)
	assert.True(t, resp.Balance.Equal(decimal.NewFromInt(4900)))
	require.NotNil(t, resp.Order)
	assert.True(t, resp.Order.EntryPrice.Equal(decimal.NewFromInt(50)))

	assert.True(t, book.Balance().Equal(decimal.NewFromInt(4900)))
}

func TestProcessor_CreateOrder_NoPrice(t *testing.T) {
	processor, book, _ := newProcessor(t, 5000)

	results := processor.Process(createCmd("o1", 100, 10))
	require.Len(t, results, 1)

	var resp domain.OrderError
	require.NoError(t, json.Unmarshal(results[0].Payload, &resp))
	assert.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, domain.ReasonNoPrice, resp.Reason)
	assert.True(t, book.Balance().Equal(decimal.NewFromInt(5000)))
}

func TestProcessor_CreateOrder_InsufficientFunds(t *testing.T) {
	processor, book, _ := newProcessor(t, 5000)
	processor.Process(priceCmd("SOL", 50))
	processor.Process(createCmd("o1", 100, 10))

	results := processor.Process(createCmd("o2", 5000, 10))
	require.Len(t, results, 1)

	var resp domain.OrderError
	require.NoError(t, json.Unmarshal(results[0].Payload, &resp))
	assert.Equal(t, domain.ReasonInsufficientFunds, resp.Reason)
	assert.True(t, book.Balance().Equal(decimal.NewFromInt(4900)))
}

func TestProcessor_CreateOrder_Duplicate(t *testing.T) {
	processor, book, _ := newProcessor(t, 5000)
	processor.Process(priceCmd("SOL", 50))
	processor.Process(createCmd("o1", 100, 10))

	results := processor.Process(createCmd("o1", 100, 10))
	require.Len(t, results, 1)

	var resp domain.OrderError
	require.NoError(t, json.Unmarshal(results[0].Payload, &resp))
	assert.Equal(t, domain.ReasonDuplicateOrder, resp.Reason)
	assert.True(t, book.Balance().Equal(decimal.NewFromInt(4900)))
}

func TestProcessor_CloseOrder_SettlesAtCurrentMark(t *testing.T) {
	processor, _, _ := newProcessor(t, 5000)
	processor.Process(priceCmd("SOL", 50))
	processor.Process(createCmd("o1", 100, 10))

	// the mark moved after creation; close settles at 52, not 50
	processor.Process(priceCmd("SOL", 52))

	results := processor.Process(domain.Command{
		Action: domain.ActionCloseOrder,
		Close:  &domain.CloseOrder{OrderID: "o1"},
	})
	require.Len(t, results, 1)

	var resp domain.OrderClosed
	require.NoError(t, json.Unmarshal(results[0].Payload, &resp))
	assert.Equal(t, domain.StatusClosed, resp.Status)
	assert.Equal(t, "o1", resp.OrderID)
	// pnl = (52-50) * 20 = 40
	assert.True(t, resp.Profit.Equal(decimal.NewFromInt(40)))
	assert.True(t, resp.Balance.Equal(decimal.NewFromInt(5040)))
}

func TestProcessor_CloseOrder_NotFound(t *testing.T) {
	processor, _, _ := newProcessor(t, 5000)

	results := processor.Process(domain.Command{
		Action: domain.ActionCloseOrder,
		Close:  &domain.CloseOrder{OrderID: "ghost"},
	})
	require.Len(t, results, 1)

	var resp domain.OrderError
	require.NoError(t, json.Unmarshal(results[0].Payload, &resp))
	assert.Equal(t, domain.StatusError, resp.Status)
	assert.Equal(t, domain.ReasonOrderNotFound, resp.Reason)
}

func TestProcessor_BalanceQueries(t *testing.T) {
	processor, _, _ := newProcessor(t, 5000)

	results := processor.Process(domain.Command{
		Action: domain.ActionCheckBalance,
		Query:  &domain.BalanceQuery{OrderID: "q1"},
	})
	require.Len(t, results, 1)
	var report domain.BalanceReport
	require.NoError(t, json.Unmarshal(results[0].Payload, &report))
	assert.True(t, report.Balance.Equal(decimal.NewFromInt(5000)))

	results = processor.Process(domain.Command{
		Action: domain.ActionCheckUSDBalance,
		Query:  &domain.BalanceQuery{OrderID: "q2"},
	})
	require.Len(t, results, 1)
	var usd domain.USDBalanceReport
	require.NoError(t, json.Unmarshal(results[0].Payload, &usd))
	assert.True(t, usd.USDBalance.Equal(decimal.NewFromInt(5000)))
}

func TestProcessor_PriceUpdateTriggersLiquidation(t *testing.T) {
	processor, book, _ := newProcessor(t, 5000)
	processor.Process(priceCmd("SOL", 50))
	processor.Process(createCmd("o1", 100, 10))

	results := processor.Process(priceCmd("SOL", 45))
	require.Len(t, results, 1)
	assert.Equal(t, "o1", results[0].OrderID)

	var resp domain.PositionLiquidated
	require.NoError(t, json.Unmarshal(results[0].Payload, &resp))
	assert.Equal(t, domain.StatusLiquidated, resp.Status)
	assert.Equal(t, "SOL", resp.Symbol)
	assert.True(t, resp.EntryPrice.Equal(decimal.NewFromInt(50)))
	assert.True(t, resp.LiquidationPrice.Equal(decimal.NewFromInt(45)))
	assert.True(t, resp.Balance.Equal(decimal.NewFromInt(4900)))

	// forfeited margin: balance untouched, position gone
	assert.True(t, book.Balance().Equal(decimal.NewFromInt(4900)))
	assert.Empty(t, book.Positions())
}
