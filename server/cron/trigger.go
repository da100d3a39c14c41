// Package cron provides cron-based scheduling for the resume sweep.
//
// The CronTrigger type wraps a Sweeper and executes it according to a
// cron schedule. It is designed to be started once and run until the
// context is cancelled.
//
// Example usage:
//
//	trigger, err := cron.NewCronTrigger("*/5 * * * *", dispatcher, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	trigger.Start(ctx)  // Returns immediately, runs in background
//	<-ctx.Done()        // Wait for shutdown signal
package cron

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// Sweeper is implemented by anything that can resume pending workflow
// instances when the schedule fires.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// CronTrigger executes a Sweeper according to a cron schedule.
type CronTrigger struct {
	spec     string
	schedule cron.Schedule
	sweeper  Sweeper
	logger   *slog.Logger
}

// NewCronTrigger creates a new CronTrigger with the given cron specification.
// The spec follows standard cron format (5 fields: minute, hour, day, month, weekday).
// Returns ErrInvalidCronSpec if the specification cannot be parsed.
func NewCronTrigger(spec string, sweeper Sweeper, logger *slog.Logger) (*CronTrigger, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}

	return &CronTrigger{
		spec:     spec,
		schedule: schedule,
		sweeper:  sweeper,
		logger:   logger,
	}, nil
}

// Start launches a goroutine that triggers sweeps according to the cron
// schedule. Returns immediately. The goroutine exits when ctx is cancelled.
func (ct *CronTrigger) Start(ctx context.Context) {
	go ct.loop(ctx)
}

// NextRun returns the next scheduled sweep time from now.
func (ct *CronTrigger) NextRun() time.Time {
	return ct.schedule.Next(time.Now())
}

// loop is the main scheduling loop that runs in a goroutine.
func (ct *CronTrigger) loop(ctx context.Context) {
	for {
		nextRun := ct.schedule.Next(time.Now())
		waitDuration := time.Until(nextRun)

		ct.logger.Debug("waiting for next scheduled sweep",
			"next_run", nextRun,
			"wait_duration", waitDuration,
		)

		select {
		case <-ctx.Done():
			ct.logger.Info("cron trigger shutting down")
			return
		case <-time.After(waitDuration):
			ct.executeSweep(ctx)
		}
	}
}

// executeSweep executes the sweeper and logs the result.
func (ct *CronTrigger) executeSweep(ctx context.Context) {
	ct.logger.Info("starting scheduled resume sweep")

	if err := ct.sweeper.Sweep(ctx); err != nil {
		ct.logger.Warn("scheduled sweep completed with error", "error", err)
	} else {
		ct.logger.Info("scheduled sweep completed successfully")
	}
}
