// Package janitor periodically deletes expired session rows.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSchedule runs cleanup every fifteen minutes.
	DefaultSchedule = "@every 15m"
	// DefaultTimeout bounds a single cleanup run.
	DefaultTimeout = 30 * time.Second
)

// Deleter removes expired sessions and reports how many.
type Deleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Janitor runs Deleter on a cron schedule. A failed run is logged and the schedule continues.
type Janitor struct {
	cron    *cron.Cron
	store   Deleter
	timeout time.Duration
	log     logrus.FieldLogger
}

// New parses spec (standard cron or a descriptor such as "@every 15m") and returns a
// stopped janitor.
func New(store Deleter, spec string, timeout time.Duration, log logrus.FieldLogger) (*Janitor, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("janitor: schedule %q: %w", spec, err)
	}
	return NewWithSchedule(store, sched, timeout, log), nil
}

// NewWithSchedule is New with an already-built schedule.
func NewWithSchedule(store Deleter, sched cron.Schedule, timeout time.Duration, log logrus.FieldLogger) *Janitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "janitor")
	cronLog := cron.PrintfLogger(log)
	j := &Janitor{
		cron:    cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		store:   store,
		timeout: timeout,
		log:     log,
	}
	j.cron.Schedule(sched, cron.FuncJob(j.run))
	return j
}

// RunOnce deletes expired sessions now.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()
	return j.store.DeleteExpired(ctx)
}

func (j *Janitor) run() {
	start := time.Now()
	n, err := j.RunOnce(context.Background())
	if err != nil {
		j.log.WithError(err).Warn("expired session cleanup failed")
		return
	}
	j.log.WithField("deleted", n).WithField("elapsed", time.Since(start).String()).Debug("expired session cleanup")
}

// Start begins the schedule in its own goroutine.
func (j *Janitor) Start() { j.cron.Start() }

// Stop halts the schedule and waits for a running cleanup to finish or ctx to end.
func (j *Janitor) Stop(ctx context.Context) error {
	done := j.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
