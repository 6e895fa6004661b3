package domain

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Action identifies a command kind carried on the inbound stream.
type Action string

const (
	ActionCreateOrder     Action = "CREATE_ORDER"
	ActionCloseOrder      Action = "CLOSE_ORDER"
	ActionCheckBalance    Action = "CHECK_BALANCE"
	ActionCheckUSDBalance Action = "CHECK_USD_BALANCE"
	ActionUpdatedPrice    Action = "UPDATED_PRICE"
)

// Command is a decoded, validated inbound stream entry. Exactly one of the
// payload pointers matching Action is set.
type Command struct {
	Action Action
	Create *CreateOrder
	Close  *CloseOrder
	Query  *BalanceQuery
	Price  *PriceUpdate
}

// CreateOrder opens a position when margin is available and a mark price
// exists for the asset.
type CreateOrder struct {
	OrderID  string
	Asset    string
	Side     Side
	Margin   decimal.Decimal
	Leverage decimal.Decimal
}

// CloseOrder voluntarily closes an open position.
type CloseOrder struct {
	OrderID string
}

// BalanceQuery is a pure read of the ledger balance, correlated by OrderID.
type BalanceQuery struct {
	OrderID string
}

// PriceUpdate carries a new mark price for one instrument.
type PriceUpdate struct {
	Symbol     string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// ErrUnknownAction marks entries whose action the engine does not recognize.
// They are logged and acknowledged, never fatal.
var ErrUnknownAction = errors.New("unknown action")

// DecodeCommand validates a raw stream entry and builds the matching command
// variant. Every required field is checked here so handlers never see a
// half-formed payload.
func DecodeCommand(values map[string]string, now time.Time) (Command, error) {
	action := Action(values["action"])

	switch action {
	case ActionCreateOrder:
		create, err := decodeCreateOrder(values)
		if err != nil {
			return Command{}, err
		}
		return Command{Action: action, Create: create}, nil

	case ActionCloseOrder:
		orderID := values["orderId"]
		if orderID == "" {
			return Command{}, errors.New("CLOSE_ORDER: orderId is required")
		}
		return Command{Action: action, Close: &CloseOrder{OrderID: orderID}}, nil

	case ActionCheckBalance, ActionCheckUSDBalance:
		orderID := values["orderId"]
		if orderID == "" {
			return Command{}, errors.Errorf("%s: orderId is required", action)
		}
		return Command{Action: action, Query: &BalanceQuery{OrderID: orderID}}, nil

	case ActionUpdatedPrice:
		price, err := decodePriceUpdate(values, now)
		if err != nil {
			return Command{}, err
		}
		return Command{Action: action, Price: price}, nil

	default:
		return Command{Action: action}, errors.Wrapf(ErrUnknownAction, "%q", string(action))
	}
}

func decodeCreateOrder(values map[string]string) (*CreateOrder, error) {
	orderID := values["orderId"]
	if orderID == "" {
		return nil, errors.New("CREATE_ORDER: orderId is required")
	}
	asset := values["asset"]
	if asset == "" {
		return nil, errors.New("CREATE_ORDER: asset is required")
	}

	side, err := ParseSide(values["type"])
	if err != nil {
		return nil, errors.Wrap(err, "CREATE_ORDER: invalid type")
	}

	margin, err := decimal.NewFromString(values["margin"])
	if err != nil {
		return nil, errors.Wrap(err, "CREATE_ORDER: invalid margin")
	}
	if margin.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("CREATE_ORDER: margin must be greater than zero")
	}

	leverage, err := decimal.NewFromString(values["leverage"])
	if err != nil {
		return nil, errors.Wrap(err, "CREATE_ORDER: invalid leverage")
	}
	if leverage.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("CREATE_ORDER: leverage must be greater than zero")
	}

	return &CreateOrder{
		OrderID:  orderID,
		Asset:    asset,
		Side:     side,
		Margin:   margin,
		Leverage: leverage,
	}, nil
}

// pricePayload tolerates the field variants produced by feed ingesters:
// a single price, or a bid/ask pair (both "bid"/"ask" and the legacy
// "bids"/"asks" spellings).
type pricePayload struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Bids   decimal.Decimal `json:"bids"`
	Asks   decimal.Decimal `json:"asks"`
}

func decodePriceUpdate(values map[string]string, now time.Time) (*PriceUpdate, error) {
	var payload pricePayload

	if data := values["data"]; data != "" {
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return nil, errors.Wrap(err, "UPDATED_PRICE: invalid data payload")
		}
	} else {
		payload.Symbol = values["symbol"]
		if payload.Symbol == "" {
			payload.Symbol = values["asset"]
		}
		for key, dst := range map[string]*decimal.Decimal{
			"price": &payload.Price,
			"bid":   &payload.Bid,
			"ask":   &payload.Ask,
		} {
			if raw := values[key]; raw != "" {
				parsed, err := decimal.NewFromString(raw)
				if err != nil {
					return nil, errors.Wrapf(err, "UPDATED_PRICE: invalid %s", key)
				}
				*dst = parsed
			}
		}
	}

	if payload.Symbol == "" {
		return nil, errors.New("UPDATED_PRICE: symbol is required")
	}

	price := payload.Price
	if price.IsZero() {
		bid, ask := payload.Bid, payload.Ask
		if bid.IsZero() && ask.IsZero() {
			bid, ask = payload.Bids, payload.Asks
		}
		if bid.IsZero() && ask.IsZero() {
			return nil, errors.New("UPDATED_PRICE: price or bid/ask is required")
		}
		// mid of whatever sides are present
		if bid.IsZero() {
			price = ask
		} else if ask.IsZero() {
			price = bid
		} else {
			price = bid.Add(ask).Div(decimal.NewFromInt(2))
		}
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New("UPDATED_PRICE: price must be greater than zero")
	}

	return &PriceUpdate{Symbol: payload.Symbol, Price: price, ObservedAt: now}, nil
}
