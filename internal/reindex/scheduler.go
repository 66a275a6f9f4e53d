// Package reindex runs the copilot reindex on a cron schedule.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/opencopilot/copilot/internal/copilot"
	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/metrics"
)

const DefaultSchedule = "@daily"

var ErrRunning = errors.New("reindex already running")

// Runner rebuilds the operation summaries of every bot.
type Runner interface {
	ReindexAll(ctx context.Context, batchSize int) (copilot.ReindexReport, error)
}

type Config struct {
	// Schedule is a standard cron expression or descriptor. Empty disables
	// scheduled runs; manual runs still work.
	Schedule  string
	BatchSize int
}

// Scheduler triggers reindex passes. At most one pass runs at a time.
type Scheduler struct {
	runner  Runner
	cfg     Config
	cron    *cron.Cron
	entry   cron.EntryID
	running atomic.Bool
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Scheduler)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func New(runner Runner, cfg Config, opts ...Option) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner: runner,
		cfg:    cfg,
		logger: xlog.WithComponent("reindex"),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, o := range opts {
		o(s)
	}
	s.cron = cron.New(cron.WithLogger(cronLogger{s.logger}))
	if cfg.Schedule != "" {
		id, err := s.cron.AddFunc(cfg.Schedule, s.scheduled)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("reindex: schedule %q: %w", cfg.Schedule, err)
		}
		s.entry = id
	}
	return s, nil
}

// Enabled reports whether a schedule is configured.
func (s *Scheduler) Enabled() bool { return s.entry != 0 }

// Next returns the next scheduled run, or the zero time when disabled or
// not started.
func (s *Scheduler) Next() time.Time {
	if !s.Enabled() {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) Start() {
	if !s.Enabled() {
		s.logger.Info().Msg("scheduled reindex disabled")
		return
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.cfg.Schedule).Time("next", s.Next()).Msg("scheduled reindex enabled")
}

// Stop halts the schedule, cancels a running pass and waits for it.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.wg.Wait()
}

// RunNow performs a pass immediately. It returns ErrRunning when a pass
// is already in progress.
func (s *Scheduler) RunNow(ctx context.Context) (copilot.ReindexReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.ReindexRuns.WithLabelValues("skipped").Inc()
		return copilot.ReindexReport{}, ErrRunning
	}
	s.wg.Add(1)
	defer func() {
		s.running.Store(false)
		s.wg.Done()
	}()
	return s.runner.ReindexAll(ctx, s.cfg.BatchSize)
}

func (s *Scheduler) scheduled() {
	_, err := s.RunNow(s.ctx)
	switch {
	case errors.Is(err, ErrRunning):
		s.logger.Info().Msg("previous reindex still running, skipping")
	case err != nil:
		s.logger.Error().Err(err).Str(xlog.FieldIncident, "reindex").Msg("scheduled reindex failed")
	}
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
