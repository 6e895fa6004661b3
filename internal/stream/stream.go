// Package stream abstracts the durable command/response transport. The engine
// consumes commands through a consumer group with at-least-once delivery and
// publishes correlated responses; gateways and feed ingesters sit on the
// other side of the same streams.
package stream

import "context"

// Entry is one inbound stream record.
type Entry struct {
	ID     string
	Values map[string]string
}

// ResponseEntry is one outbound response record, correlated by order id.
type ResponseEntry struct {
	ID      string
	OrderID string
	Payload []byte
}

// Consumer reads batches of command entries for a consumer group and
// acknowledges them after processing.
type Consumer interface {
	// Read blocks up to the transport's configured interval and returns the
	// next batch. An empty batch with nil error means the read timed out.
	Read(ctx context.Context) ([]Entry, error)
	// Ack marks entries as processed. Must be called only after the
	// corresponding responses were durably published.
	Ack(ctx context.Context, ids ...string) error
}

// Publisher appends responses to the outbound response stream.
type Publisher interface {
	Respond(ctx context.Context, orderID string, payload []byte) error
}

// CommandPublisher appends command entries to the inbound stream. Used by the
// gateway and the price-feed ingester.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, values map[string]string) error
}

// ResponseReader tails the response stream from a cursor. Used by the gateway
// to await the response correlated with a published command.
type ResponseReader interface {
	// LastResponseID returns the current tail position of the response
	// stream, to be captured before publishing the command.
	LastResponseID(ctx context.Context) (string, error)
	// ReadResponses blocks up to the transport's configured interval and
	// returns entries appended after the cursor plus the advanced cursor.
	ReadResponses(ctx context.Context, cursor string) ([]ResponseEntry, string, error)
}

// PriceBroadcaster fans raw price payloads out to display subscribers. This
// is a lossy side channel, separate from the durable command stream.
type PriceBroadcaster interface {
	PublishPrice(ctx context.Context, payload []byte) error
}

// PriceSubscriber receives the payloads published via PriceBroadcaster.
type PriceSubscriber interface {
	// SubscribePrices delivers payloads until ctx is cancelled.
	SubscribePrices(ctx context.Context) (<-chan []byte, error)
}
