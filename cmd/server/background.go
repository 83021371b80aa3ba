package main

import "context"

// background runs long-lived loops and stops them in reverse start order,
// waiting for each to return before stopping the next. Start consumers
// before the producers that feed them.
type background struct {
	stops []func()
}

func (b *background) start(run func(context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		run(ctx)
	}()
	b.stops = append(b.stops, func() {
		cancel()
		<-done
	})
}

// after registers fn to run when stop reaches this point.
func (b *background) after(fn func()) {
	b.stops = append(b.stops, fn)
}

func (b *background) stop() {
	for i := len(b.stops) - 1; i >= 0; i-- {
		b.stops[i]()
	}
	b.stops = nil
}
