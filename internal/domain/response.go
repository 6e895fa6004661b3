package domain

import "github.com/shopspring/decimal"

// Response payloads published to the outbound response stream, correlated by
// orderId. Field names follow the wire contract consumed by the gateway.

const (
	StatusSuccess    = "success"
	StatusClosed     = "closed"
	StatusError      = "error"
	StatusLiquidated = "liquidated"
)

// Error reasons surfaced to clients.
const (
	ReasonInsufficientFunds = "Insufficient funds"
	ReasonNoPrice           = "No market price available"
	ReasonOrderNotFound     = "Order not found"
	ReasonDuplicateOrder    = "Order already exists"
)

// OrderCreated acknowledges a successful CREATE_ORDER.
type OrderCreated struct {
	Status  string          `json:"status"`
	Order   *Position       `json:"order"`
	Balance decimal.Decimal `json:"balance"`
}

// OrderClosed acknowledges a successful CLOSE_ORDER.
type OrderClosed struct {
	Status  string          `json:"status"`
	OrderID string          `json:"orderId"`
	Balance decimal.Decimal `json:"balance"`
	Profit  decimal.Decimal `json:"profit"`
}

// OrderError is the structured failure answer for any command.
type OrderError struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// BalanceReport answers CHECK_BALANCE.
type BalanceReport struct {
	Balance decimal.Decimal `json:"balance"`
}

// USDBalanceReport answers CHECK_USD_BALANCE.
type USDBalanceReport struct {
	USDBalance decimal.Decimal `json:"usdBalance"`
}

// PositionLiquidated notifies a forced closure triggered by a price tick.
type PositionLiquidated struct {
	Status           string          `json:"status"`
	OrderID          string          `json:"orderId"`
	Symbol           string          `json:"symbol"`
	EntryPrice       decimal.Decimal `json:"entryPrice"`
	LiquidationPrice decimal.Decimal `json:"liquidationPrice"`
	Balance          decimal.Decimal `json:"balance"`
}
