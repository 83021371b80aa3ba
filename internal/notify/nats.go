package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StreamName is the JetStream stream holding auction events.
	StreamName = "AUCTION_EVENTS"

	subjectPrefix = "auction.events."
)

// Subject returns the JetStream subject for an auction.
func Subject(auctionID string) string {
	return subjectPrefix + auctionID
}

// NATSPublisher appends events to the AUCTION_EVENTS stream so downstream
// consumers (payments, archival) can process them at their own pace.
type NATSPublisher struct {
	js jetstream.JetStream
}

// NewNATSPublisher ensures the stream exists and returns a publisher.
func NewNATSPublisher(ctx context.Context, nc *nats.Conn) (*NATSPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("notify: jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Committed auction transitions",
		Subjects:    []string{subjectPrefix + "*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("notify: create stream %s: %w", StreamName, err)
	}
	return &NATSPublisher{js: js}, nil
}

func (p *NATSPublisher) Dispatch(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	// Deduplicates redeliveries of the same transition within the stream window.
	msgID := fmt.Sprintf("%s:%s:%s:%d", e.AuctionID, e.Kind, e.UserID, e.OccurredAt.UnixNano())
	if _, err := p.js.Publish(ctx, Subject(e.AuctionID), data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("notify: jetstream publish: %w", err)
	}
	return nil
}
