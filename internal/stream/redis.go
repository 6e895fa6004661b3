package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig names the streams and consumer group the transport uses.
type RedisConfig struct {
	Addr           string
	CommandStream  string
	ConsumerGroup  string
	ConsumerName   string
	ResponseStream string
	PriceChannel   string
	// Start is the stream id the consumer group begins at when it does not
	// exist yet, typically the last acknowledged id from a checkpoint.
	Start     string
	ReadBlock time.Duration
	BatchSize int64
}

// Redis implements the stream contracts over Redis Streams and pub/sub.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedis connects, verifies the backend is reachable and ensures the
// consumer group exists. An unreachable backend at boot is fatal by design.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.CommandStream == "" || cfg.ConsumerGroup == "" {
		return nil, errors.New("command stream and consumer group are required")
	}
	if cfg.Start == "" {
		cfg.Start = "0"
	}
	if cfg.ReadBlock <= 0 {
		cfg.ReadBlock = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}

	err := client.XGroupCreateMkStream(ctx, cfg.CommandStream, cfg.ConsumerGroup, cfg.Start).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, errors.Wrap(err, "create consumer group")
	}

	return &Redis{client: client, cfg: cfg}, nil
}

// Read blocks up to the configured interval for new entries addressed to the
// consumer group. A timed-out read returns an empty batch, not an error.
func (r *Redis) Read(ctx context.Context) ([]Entry, error) {
	res, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    r.cfg.ConsumerGroup,
		Consumer: r.cfg.ConsumerName,
		Streams:  []string{r.cfg.CommandStream, ">"},
		Count:    r.cfg.BatchSize,
		Block:    r.cfg.ReadBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read command stream")
	}

	var entries []Entry
	for _, str := range res {
		for _, msg := range str.Messages {
			entries = append(entries, Entry{ID: msg.ID, Values: stringValues(msg.Values)})
		}
	}
	return entries, nil
}

// Ack acknowledges processed entries for the consumer group.
func (r *Redis) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return errors.Wrap(r.client.XAck(ctx, r.cfg.CommandStream, r.cfg.ConsumerGroup, ids...).Err(), "ack entries")
}

// Respond appends the response to the response stream, correlated by orderId.
func (r *Redis) Respond(ctx context.Context, orderID string, payload []byte) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.cfg.ResponseStream,
		Values: map[string]interface{}{"orderId": orderID, "response": string(payload)},
	}).Err()
	return errors.Wrap(err, "append response")
}

// PublishCommand appends a command entry to the command stream.
func (r *Redis) PublishCommand(ctx context.Context, values map[string]string) error {
	converted := make(map[string]interface{}, len(values))
	for k, v := range values {
		converted[k] = v
	}
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.cfg.CommandStream,
		Values: converted,
	}).Err()
	return errors.Wrap(err, "append command")
}

// LastResponseID returns the id of the newest response entry, or "0" for an
// empty stream.
func (r *Redis) LastResponseID(ctx context.Context) (string, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.cfg.ResponseStream, "+", "-", 1).Result()
	if err != nil {
		return "", errors.Wrap(err, "read response stream tail")
	}
	if len(msgs) == 0 {
		return "0", nil
	}
	return msgs[0].ID, nil
}

// ReadResponses tails the response stream after the cursor.
func (r *Redis) ReadResponses(ctx context.Context, cursor string) ([]ResponseEntry, string, error) {
	res, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{r.cfg.ResponseStream, cursor},
		Count:   r.cfg.BatchSize,
		Block:   r.cfg.ReadBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, cursor, nil
		}
		return nil, cursor, errors.Wrap(err, "read response stream")
	}

	var entries []ResponseEntry
	for _, str := range res {
		for _, msg := range str.Messages {
			values := stringValues(msg.Values)
			entries = append(entries, ResponseEntry{
				ID:      msg.ID,
				OrderID: values["orderId"],
				Payload: []byte(values["response"]),
			})
			cursor = msg.ID
		}
	}
	return entries, cursor, nil
}

// PublishPrice fans a raw price payload out on the pub/sub channel.
func (r *Redis) PublishPrice(ctx context.Context, payload []byte) error {
	return errors.Wrap(r.client.Publish(ctx, r.cfg.PriceChannel, payload).Err(), "publish price")
}

// SubscribePrices subscribes to the price channel until ctx is cancelled.
func (r *Redis) SubscribePrices(ctx context.Context) (<-chan []byte, error) {
	pubsub := r.client.Subscribe(ctx, r.cfg.PriceChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, errors.Wrap(err, "subscribe price channel")
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func stringValues(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		switch typed := v.(type) {
		case string:
			out[k] = typed
		default:
			out[k] = fmt.Sprint(typed)
		}
	}
	return out
}
