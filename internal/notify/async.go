package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/AiSchool-Admin/maksab-sub003/internal/metrics"
)

// Async queues events in a bounded buffer and delivers them from a single
// worker goroutine. When the buffer is full the event is dropped.
type Async struct {
	next    Dispatcher
	queue   chan Event
	timeout time.Duration
	logger  *slog.Logger
}

// NewAsync creates a queue of the given size in front of next.
func NewAsync(next Dispatcher, size int, logger *slog.Logger) *Async {
	if size <= 0 {
		size = 1
	}
	return &Async{
		next:    next,
		queue:   make(chan Event, size),
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Notify enqueues e and returns immediately.
func (a *Async) Notify(e Event) {
	select {
	case a.queue <- e:
	default:
		metrics.NotificationsDropped.Inc()
		a.logger.Warn("notification dropped, queue full",
			"auction_id", e.AuctionID,
			"kind", string(e.Kind),
		)
	}
}

// Run delivers queued events until ctx is cancelled, then drains whatever
// is still buffered.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case e := <-a.queue:
			a.deliver(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-a.queue:
					a.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (a *Async) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.next.Dispatch(ctx, e); err != nil {
		metrics.NotificationFailures.Inc()
		a.logger.Error("notification delivery failed",
			"auction_id", e.AuctionID,
			"kind", string(e.Kind),
			"err", err,
		)
		return
	}
	metrics.NotificationsSent.WithLabelValues(string(e.Kind)).Inc()
}
