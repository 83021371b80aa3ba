package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on the Pub/Sub channel
// auction_events:{auctionID}.
type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Channel returns the Pub/Sub channel for an auction.
func Channel(auctionID string) string {
	return "auction_events:" + auctionID
}

func (p *RedisPublisher) Dispatch(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, Channel(e.AuctionID), data).Err(); err != nil {
		return fmt.Errorf("notify: redis publish: %w", err)
	}
	return nil
}
