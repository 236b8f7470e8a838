// Package stress races weak promotion against the release of the last
// owners and checks that no promotion ever observes a destroyed payload.
package stress

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/wippyai/ownership/errors"
	"github.com/wippyai/ownership/ref"
	"github.com/wippyai/ownership/resource"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sentinelType = 1

// Progress is reported after every round.
type Progress struct {
	Round            int
	Rounds           int
	Promotions       int64
	FailedPromotions int64
	Violations       int64
	Elapsed          time.Duration
}

// Report summarizes a run.
type Report struct {
	Leaked           ref.Stats
	Rounds           int
	Promotions       int64
	FailedPromotions int64
	Violations       int64
	Elapsed          time.Duration
}

// sentinel records its own destruction.
type sentinel struct {
	dead atomic.Bool
}

func (s *sentinel) Drop() { s.dead.Store(true) }

type roundResult struct {
	promotions int64
	failed     int64
	violations int64
}

// Run executes cfg.Rounds rounds. It stops early on cancellation, on a
// violation, or when a round leaves blocks or payloads behind.
//
// Leak detection compares ref.ReadStats against the value at start, so no
// other goroutine may create or release handles during a run.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, progress func(Progress)) (Report, error) {
	if err := cfg.Validate(); err != nil {
		return Report{}, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout.Duration)
		defer cancel()
	}

	table := resource.NewTable()
	defer table.Close()

	var rep Report
	start := time.Now()
	baseline := ref.ReadStats()

	for round := 0; round < cfg.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			rep.Elapsed = time.Since(start)
			return rep, err
		}

		rr, err := runRound(ctx, cfg, table)
		rep.Rounds++
		rep.Promotions += rr.promotions
		rep.FailedPromotions += rr.failed
		rep.Violations += rr.violations
		rep.Elapsed = time.Since(start)
		if err != nil {
			return rep, err
		}

		if after := ref.ReadStats(); after != baseline {
			rep.Leaked = ref.Stats{
				Blocks:   after.Blocks - baseline.Blocks,
				Payloads: after.Payloads - baseline.Payloads,
			}
			logger.Error("round leaked",
				zap.Int("round", round),
				zap.Int64("blocks", rep.Leaked.Blocks),
				zap.Int64("payloads", rep.Leaked.Payloads))
			return rep, errors.Invariant(errors.PhaseStress,
				"round %d leaked %d blocks and %d payloads", round, rep.Leaked.Blocks, rep.Leaked.Payloads)
		}
		if rr.violations > 0 {
			logger.Error("promotion observed destroyed payload",
				zap.Int("round", round),
				zap.Int64("violations", rr.violations))
			return rep, errors.Invariant(errors.PhaseStress,
				"round %d: %d promotions observed a destroyed payload", round, rr.violations)
		}

		if ce := logger.Check(zap.DebugLevel, "round complete"); ce != nil {
			ce.Write(
				zap.Int("round", round),
				zap.Int64("promotions", rr.promotions),
				zap.Int64("failed", rr.failed))
		}
		if progress != nil {
			progress(Progress{
				Round:            round + 1,
				Rounds:           cfg.Rounds,
				Promotions:       rep.Promotions,
				FailedPromotions: rep.FailedPromotions,
				Violations:       rep.Violations,
				Elapsed:          rep.Elapsed,
			})
		}
	}

	logger.Info("stress run complete",
		zap.Int("rounds", rep.Rounds),
		zap.Int64("promotions", rep.Promotions),
		zap.Int64("failed_promotions", rep.FailedPromotions),
		zap.Duration("elapsed", rep.Elapsed))
	return rep, nil
}

// runRound shares one payload between the table, cfg.Holders extra owners
// and cfg.Observers idle observers, then drops every owner while the
// lockers keep promoting.
func runRound(ctx context.Context, cfg Config, table *resource.UnifiedTable) (roundResult, error) {
	payload := &sentinel{}
	p := new(any)
	*p = payload
	owner := ref.New(p)

	holders := make([]ref.Strong[any], cfg.Holders)
	for i := range holders {
		holders[i] = owner.Clone()
	}
	handle := table.InsertOwned(sentinelType, &owner)
	if handle == 0 {
		for i := range holders {
			holders[i].Release()
		}
		return roundResult{}, errors.Closed(errors.PhaseStress, "resource table")
	}

	w, _ := table.Lookup(handle)
	defer w.Release()
	observers := make([]ref.Weak[any], cfg.Observers)
	for i := range observers {
		observers[i] = w.Clone()
	}
	defer func() {
		for i := range observers {
			observers[i].Release()
		}
	}()

	var (
		promoted   atomic.Int64
		failed     atomic.Int64
		violations atomic.Int64
		startCh    = make(chan struct{})
	)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Lockers; i++ {
		local := w.Clone()
		g.Go(func() error {
			defer local.Release()
			<-startCh
			for n := 0; n < cfg.Attempts; n++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				got := local.Lock()
				if !got.Valid() {
					failed.Add(1)
					return nil
				}
				promoted.Add(1)
				if payload.dead.Load() {
					violations.Add(1)
				}
				runtime.Gosched()
				if payload.dead.Load() {
					violations.Add(1)
				}
				got.Release()
			}
			return nil
		})
	}

	for i := range holders {
		h := holders[i].Move()
		g.Go(func() error {
			<-startCh
			runtime.Gosched()
			h.Release()
			return nil
		})
	}
	g.Go(func() error {
		<-startCh
		table.Remove(handle)
		return nil
	})

	close(startCh)
	err := g.Wait()

	rr := roundResult{
		promotions: promoted.Load(),
		failed:     failed.Load(),
		violations: violations.Load(),
	}
	if err != nil {
		return rr, err
	}
	if !payload.dead.Load() {
		rr.violations++
		return rr, errors.Invariant(errors.PhaseStress, "payload outlived all of its owners")
	}
	if !w.Expired() {
		rr.violations++
		return rr, errors.Invariant(errors.PhaseStress, "observer not expired after destruction")
	}
	return rr, nil
}
