package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/peterldowns/testy/check"

	"github.com/AiSchool-Admin/maksab-sub003/internal/notify"
)

type recorder struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (r *recorder) Dispatch(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, e.Kind)
	return nil
}

func TestBackground_StopsInReverseOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	loop := func(name string) func(context.Context) {
		return func(ctx context.Context) {
			<-ctx.Done()
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	var bg background
	bg.start(loop("hub"))
	bg.start(loop("notifier"))
	bg.after(func() { order = append(order, "write-backs") })
	bg.start(loop("sweeper"))
	bg.stop()

	check.Equal(t, []string{"sweeper", "write-backs", "notifier", "hub"}, order)
}

// An event emitted by the sweeper while it shuts down still reaches the
// dispatchers.
func TestBackground_LastSettlementIsDelivered(t *testing.T) {
	rec := &recorder{}
	notifier := notify.NewAsync(rec, 16, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var bg background
	bg.start(notifier.Run)
	bg.start(func(ctx context.Context) {
		<-ctx.Done()
		notifier.Notify(notify.Event{AuctionID: "a1", Kind: notify.KindWon})
	})
	bg.stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	check.Equal(t, []notify.Kind{notify.KindWon}, rec.kinds)
}
