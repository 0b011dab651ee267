package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Intervals holds the tick period of each background loop.
type Intervals struct {
	Sweep   time.Duration
	Settle  time.Duration
	Archive time.Duration
	// Housekeeping drives the periodic cleanup hooks.
	Housekeeping time.Duration
}

// Orchestrator manages all background goroutines: the lifecycle sweeper, the
// settlement worker, and cold-storage archival.
type Orchestrator struct {
	sweeper   *Sweeper
	settler   *Settler
	archiver  *Archiver
	cleanups  []func()
	intervals Intervals
	logger    *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. archiver may be nil when
// archival is disabled. cleanups run every Housekeeping interval.
func NewOrchestrator(
	sweeper *Sweeper,
	settler *Settler,
	archiver *Archiver,
	intervals Intervals,
	logger *slog.Logger,
	cleanups ...func(),
) *Orchestrator {
	if intervals.Housekeeping <= 0 {
		intervals.Housekeeping = time.Minute
	}
	return &Orchestrator{
		sweeper:   sweeper,
		settler:   settler,
		archiver:  archiver,
		cleanups:  cleanups,
		intervals: intervals,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts all loops as concurrent goroutines using an errgroup. If any loop
// returns a non-context error, the errgroup cancels the shared context and
// Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("sweep_interval", o.intervals.Sweep),
		slog.Duration("settle_interval", o.intervals.Settle),
		slog.Bool("archive", o.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.sweeper.RunLoop(ctx, o.intervals.Sweep)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("sweeper: %w", err)
	})

	g.Go(func() error {
		err := o.settler.RunLoop(ctx, o.intervals.Settle)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("settler: %w", err)
	})

	if o.archiver != nil {
		g.Go(func() error {
			err := o.archiver.RunLoop(ctx, o.intervals.Archive)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if len(o.cleanups) > 0 {
		g.Go(func() error {
			o.housekeep(ctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.Any("error", err))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}

func (o *Orchestrator) housekeep(ctx context.Context) {
	ticker := time.NewTicker(o.intervals.Housekeeping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, fn := range o.cleanups {
				fn()
			}
		}
	}
}
