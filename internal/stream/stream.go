// Package stream wraps the Redis streams protocol used by the engine:
// consumer-group reads with explicit acknowledgment on the inbound side and
// XADD publishing on the outbound side.
//
// Each Consumer owns exactly one group cursor on one stream. With a single
// active consumer per group, delivery order within the stream is preserved;
// unacknowledged entries stay pending until redelivered.
package stream

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream names shared with the API layer and the price feeder.
const (
	PriceStream = "price-updates-stream"
	TradeStream = "trade-requests-stream"
	CloseStream = "trade-close-stream"
)

// Consumer reads one stream through one consumer group.
type Consumer struct {
	rdb    *redis.Client
	stream string
	group  string
	name   string
	block  time.Duration
}

// NewConsumer creates a consumer for the given stream/group/consumer triple.
func NewConsumer(rdb *redis.Client, stream, group, name string) *Consumer {
	return &Consumer{
		rdb:    rdb,
		stream: stream,
		group:  group,
		name:   name,
		block:  5 * time.Second,
	}
}

// Stream returns the stream name this consumer reads.
func (c *Consumer) Stream() string { return c.stream }

// EnsureGroup creates the consumer group at the stream tail, creating the
// stream itself if needed. An already-existing group is not an error.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Fetch blocks for new entries assigned to this consumer. Returns an empty
// slice when the block window elapses with nothing delivered.
func (c *Consumer) Fetch(ctx context.Context) ([]redis.XMessage, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    16,
		Block:    c.block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []redis.XMessage
	for _, s := range res {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// FetchPending returns entries after the given id that were delivered to
// this consumer but never acknowledged, without blocking. Reading from id
// "0" walks the whole pending list; an empty result means the backlog past
// start is drained.
func (c *Consumer) FetchPending(ctx context.Context, start string) ([]redis.XMessage, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, start},
		Count:    16,
		Block:    -1,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var msgs []redis.XMessage
	for _, s := range res {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// Ack acknowledges one processed entry.
func (c *Consumer) Ack(ctx context.Context, id string) error {
	return c.rdb.XAck(ctx, c.stream, c.group, id).Err()
}

// Producer publishes entries onto streams. Used by the price feeder.
type Producer struct {
	rdb *redis.Client
}

// NewProducer creates a stream producer.
func NewProducer(rdb *redis.Client) *Producer {
	return &Producer{rdb: rdb}
}

// PublishPrice appends one price update entry and returns its stream id.
func (p *Producer) PublishPrice(ctx context.Context, asset, price string, at time.Time) (string, error) {
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: PriceStream,
		Values: map[string]interface{}{
			"asset":     asset,
			"price":     price,
			"timestamp": at.UnixMilli(),
		},
	}).Result()
}
