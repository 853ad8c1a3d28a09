// Package scheduler drives the recurring billing run on a cron cadence.
// The heavy lifting lives in billingrun; this package only decides when
// to kick it off and under which actor identity.
package scheduler

import (
	"context"
	"time"

	"github.com/Torqvoice/torqvoice-sub001/internal/billingrun"
	"github.com/Torqvoice/torqvoice-sub001/internal/clock"
	"github.com/Torqvoice/torqvoice-sub001/internal/orgcontext"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Processor *billingrun.Processor
}

type Scheduler struct {
	log       *zap.Logger
	clock     clock.Clock
	processor *billingrun.Processor
	cron      *cron.Cron
}

func New(p Params) *Scheduler {
	return &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:     p.Clock,
		processor: p.Processor,
		cron:      cron.New(),
	}
}

// RunOnce executes a single billing sweep under the system actor.
func (s *Scheduler) RunOnce(ctx context.Context) (billingrun.RunResult, error) {
	ctx = orgcontext.WithActor(ctx, "system")

	start := s.clock.Now()
	result, err := s.processor.RunDueBilling(ctx)
	if err != nil {
		s.log.Warn("billing run failed", zap.Error(err))
		return result, err
	}

	s.log.Info("billing run finished",
		zap.Int("processed", result.ProcessedCount),
		zap.Int("failed", result.FailedCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// Start schedules the billing run on the given cron spec and begins
// executing it. Overlapping runs are prevented by cron's SkipIfStillRunning
// wrapper so a slow sweep never stacks behind itself.
func (s *Scheduler) Start(spec string) error {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.log.Warn("scheduled billing run failed", zap.Error(err))
		}
	}))
	if _, err := s.cron.AddJob(spec, job); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info("scheduler started", zap.String("cron", spec))
	return nil
}

// Stop halts the cron loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
