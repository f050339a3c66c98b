package services

import (
	"context"
	"fmt"
	"time"

	cron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler fires a reminder cycle, and optionally a follow-up sweep, on a
// cron spec. A tick that is still running when the next one is due makes the
// next one skip.
type Scheduler struct {
	cron     *cron.Cron
	svc      *ReminderService
	followUp bool
	timeout  time.Duration
	logger   *zap.Logger
}

type SchedulerConfig struct {
	Spec     string
	Location *time.Location
	FollowUp bool
	// Timeout bounds one tick. Zero means no bound.
	Timeout time.Duration
}

func NewScheduler(svc *ReminderService, cfg SchedulerConfig, logger *zap.Logger) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		svc:      svc,
		followUp: cfg.FollowUp,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
	if _, err := s.cron.AddFunc(cfg.Spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid scheduler spec %q: %w", cfg.Spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Reminder scheduler started")
}

// Stop stops scheduling and returns a context that is done once the running
// tick, if any, has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if _, err := s.svc.RunCycle(ctx, s.svc.Now()); err != nil {
		s.logger.Error("Reminder cycle failed", zap.Error(err))
	}
	if !s.followUp {
		return
	}
	if _, err := s.svc.FollowUp(ctx, s.svc.Now()); err != nil {
		s.logger.Error("Follow-up failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
