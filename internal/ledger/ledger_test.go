package ledger

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfutures/margind/internal/domain"
)

func createCmd(orderID string, margin, leverage int64) domain.CreateOrder {
	return domain.CreateOrder{
		OrderID:  orderID,
		Asset:    "SOL",
		Side:     domain.SideLong,
		Margin:   decimal.NewFromInt(margin),
		Leverage: decimal.NewFromInt(leverage),
	}
}

func TestLedger_Create(t *testing.T) {
	book := New(decimal.NewFromInt(5000))
	mark := decimal.NewFromInt(50)

	position, err := book.Create(createCmd("o1", 100, 10), mark, time.Now())
	require.NoError(t, err)

	// margin locked out of free cash
	assert.True(t, book.Balance().Equal(decimal.NewFromInt(4900)))
	assert.True(t, position.EntryPrice.Equal(mark))
	assert.True(t, position.Margin.Equal(decimal.NewFromInt(100)))

	got, ok := book.Position("o1")
	require.True(t, ok)
	assert.Equal(t, position, got)
}

func TestLedger_Create_InsufficientFunds(t *testing.T) {
	book := New(decimal.NewFromInt(5000))
	mark := decimal.NewFromInt(50)

	_, err := book.Create(createCmd("o1", 100, 10), mark, time.Now())
	require.NoError(t, err)

	_, err = book.Create(createCmd("o2", 5000, 10), mark, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	// balance unchanged, no partial fill
	assert.True(t, book.Balance().Equal(decimal.NewFromInt(4900)))
}

func TestLedger_Create_DuplicateOrderID(t *testing.T) {
	book := New(decimal.NewFromInt(5000))
	mark := decimal.NewFromInt(50)

	_, err := book.Create(createCmd("o1", 100, 10), mark, time.Now())
	require.NoError(t, err)

	// redelivered command must not double-lock margin
	_, err = book.Create(createCmd("o1", 100, 10), mark, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateOrder))
	assert.True(t, book.Balance().Equal(decimal.NewFromInt(4900)))
	assert.Len(t, book.Positions(), 1)
}

func TestLedger_Close(t *testing.T) {
	book := New(decimal.NewFromInt(5000))

	_, err := book.Create(createCmd("o1", 100, 10), decimal.NewFromInt(50), time.Now())
	require.NoError(t, err)

	// price moved up: pnl = (55-50) * 20 = 100
	pnl, balance, err := book.Close("o1", decimal.NewFromInt(55))
	require.NoError(t, err)
	assert.True(t, pnl.Equal(decimal.NewFromInt(100)))
	assert.True(t, balance.Equal(decimal.NewFromInt(5100)))

	_, ok := book.Position("o1")
	assert.False(t, ok)
}

func TestLedger_Close_NotFound(t *testing.T) {
	book := New(decimal.NewFromInt(5000))

	_, balance, err := book.Close("ghost", decimal.NewFromInt(50))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOrderNotFound))
	// failed lookup never mutates balance
	assert.True(t, balance.Equal(decimal.NewFromInt(5000)))

	// closing twice yields the same not-found error
	_, err = book.Create(createCmd("o1", 100, 10), decimal.NewFromInt(50), time.Now())
	require.NoError(t, err)
	_, _, err = book.Close("o1", decimal.NewFromInt(50))
	require.NoError(t, err)
	_, _, err = book.Close("o1", decimal.NewFromInt(50))
	assert.True(t, errors.Is(err, ErrOrderNotFound))
}

func TestLedger_Forfeit(t *testing.T) {
	book := New(decimal.NewFromInt(5000))

	_, err := book.Create(createCmd("o1", 100, 10), decimal.NewFromInt(50), time.Now())
	require.NoError(t, err)

	require.NoError(t, book.Forfeit("o1"))
	// margin forfeited in full, nothing credited back
	assert.True(t, book.Balance().Equal(decimal.NewFromInt(4900)))
	assert.Empty(t, book.Positions())

	assert.True(t, errors.Is(book.Forfeit("o1"), ErrOrderNotFound))
}

func TestLedger_Conservation(t *testing.T) {
	start := decimal.NewFromInt(5000)
	book := New(start)
	mark := decimal.NewFromInt(50)
	now := time.Now()

	_, err := book.Create(createCmd("o1", 100, 10), mark, now)
	require.NoError(t, err)
	_, err = book.Create(createCmd("o2", 250, 5), mark, now)
	require.NoError(t, err)
	_, err = book.Create(createCmd("o3", 400, 2), mark, now)
	require.NoError(t, err)

	pnl, _, err := book.Close("o2", decimal.NewFromInt(52))
	require.NoError(t, err)

	// balance + locked margins == start + realized pnl of closed positions
	locked := decimal.Zero
	for _, p := range book.Positions() {
		locked = locked.Add(p.Margin)
	}
	assert.True(t, book.Balance().Add(locked).Equal(start.Add(pnl)))
	assert.True(t, book.Balance().GreaterThanOrEqual(decimal.Zero))
}

func TestLedger_PositionsOrderAndFilter(t *testing.T) {
	book := New(decimal.NewFromInt(5000))
	mark := decimal.NewFromInt(50)
	now := time.Now()

	_, err := book.Create(createCmd("o1", 100, 10), mark, now)
	require.NoError(t, err)

	solCmd := createCmd("o2", 100, 10)
	btcCmd := createCmd("o3", 100, 10)
	btcCmd.Asset = "BTC"
	_, err = book.Create(solCmd, mark, now)
	require.NoError(t, err)
	_, err = book.Create(btcCmd, mark, now)
	require.NoError(t, err)

	positions := book.Positions()
	require.Len(t, positions, 3)
	assert.Equal(t, "o1", positions[0].OrderID)
	assert.Equal(t, "o3", positions[2].OrderID)

	sol := book.PositionsOn("SOL")
	require.Len(t, sol, 2)
	assert.Equal(t, "o1", sol[0].OrderID)
	assert.Equal(t, "o2", sol[1].OrderID)
}

func TestLedger_Restore(t *testing.T) {
	book := New(decimal.NewFromInt(5000))
	_, err := book.Create(createCmd("o1", 100, 10), decimal.NewFromInt(50), time.Now())
	require.NoError(t, err)

	fresh := New(decimal.NewFromInt(5000))
	fresh.Restore(book.Balance(), book.Positions())

	assert.True(t, fresh.Balance().Equal(decimal.NewFromInt(4900)))
	restored, ok := fresh.Position("o1")
	require.True(t, ok)
	assert.True(t, restored.Margin.Equal(decimal.NewFromInt(100)))
}
