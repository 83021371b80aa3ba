// Package settlement closes expired auctions. The sweep may run on any
// number of instances at once: correctness rests on the store's guarded
// compare-and-settle, never on coordination between sweepers.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AiSchool-Admin/maksab-sub003/internal/metrics"
	"github.com/AiSchool-Admin/maksab-sub003/internal/model"
	"github.com/AiSchool-Admin/maksab-sub003/internal/store"
)

// Finalizer is told about every auction this sweeper settled.
type Finalizer interface {
	Finalize(a *model.Auction)
}

// Config tunes a Sweeper.
type Config struct {
	Interval  time.Duration
	BatchSize int
	// Now is the server clock; defaults to time.Now in UTC.
	Now func() time.Time
}

// Result summarizes one sweep.
type Result struct {
	Found   int // expired auctions selected
	Settled int // transitions this sweeper committed
	Skipped int // already settled elsewhere or extended since selection
	Failed  int // left for the next tick
}

// Sweeper periodically settles auctions whose close time has passed.
type Sweeper struct {
	store     store.Store
	finalizer Finalizer
	cfg       Config
	logger    *slog.Logger
}

func NewSweeper(st store.Store, f Finalizer, cfg Config, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Sweeper{store: st, finalizer: f, cfg: cfg, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is
// cancelled. A panic inside one sweep is logged and the loop continues.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("settlement sweep started", "interval", s.cfg.Interval, "batch", s.cfg.BatchSize)
	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("settlement sweep: shutting down")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	defer s.recoverAndLog()
	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error("settlement sweep failed", "err", err)
	}
}

// SweepOnce settles every auction that is expired at the time of the call.
// Per-auction failures are logged and counted, never returned; the auction
// stays active and is picked up again next tick.
func (s *Sweeper) SweepOnce(ctx context.Context) (Result, error) {
	start := time.Now()
	defer metrics.ObserveSince(metrics.SweepDuration, start)

	var res Result
	now := s.cfg.Now()
	for {
		expired, err := s.store.ListExpired(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("settlement: list expired: %w", err)
		}
		res.Found += len(expired)

		settled := 0
		for i := range expired {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if s.settle(ctx, &expired[i], now, &res) {
				settled++
			}
		}

		// A full page that made progress may have more behind it. Pages
		// that made none would only return the same failing auctions.
		if len(expired) < s.cfg.BatchSize || settled == 0 {
			break
		}
	}

	metrics.SweepBacklog.Set(float64(res.Failed))
	if res.Found > 0 {
		s.logger.Info("settlement sweep complete",
			"found", res.Found,
			"settled", res.Settled,
			"skipped", res.Skipped,
			"failed", res.Failed,
		)
	}
	return res, nil
}

func (s *Sweeper) settle(ctx context.Context, a *model.Auction, now time.Time, res *Result) bool {
	settled, ok, err := s.store.CompareAndSettle(ctx, a.ID, now)
	if err != nil {
		res.Failed++
		metrics.SweepErrors.Inc()
		s.logger.Error("settle auction failed", "auction_id", a.ID, "err", err)
		return false
	}
	if !ok {
		res.Skipped++
		s.logger.Debug("auction not settled",
			"auction_id", a.ID,
			"status", string(settled.Status),
			"ends_at", settled.EndsAt,
		)
		return false
	}

	res.Settled++
	metrics.Settlements.WithLabelValues(string(settled.Status)).Inc()
	s.logger.Info("auction settled",
		"auction_id", settled.ID,
		"status", string(settled.Status),
		"winner", settled.WinnerID,
		"bids", settled.BidsCount,
	)
	s.finalizer.Finalize(settled)
	return true
}

func (s *Sweeper) recoverAndLog() {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in settlement sweep", "panic", r)
	}
}
