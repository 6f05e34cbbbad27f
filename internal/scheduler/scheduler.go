package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/railzwaylabs/membership/internal/clock"
	"github.com/railzwaylabs/membership/internal/config"
	lifecycledomain "github.com/railzwaylabs/membership/internal/lifecycle/domain"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("scheduler",
	fx.Provide(New),
)

var ErrJobLocked = errors.New("job_locked")

type Params struct {
	fx.In

	Cfg     config.Config
	Log     *zap.Logger
	Clock   clock.Clock
	Jobs    lifecycledomain.Service
	Redsync *redsync.Redsync `optional:"true"`
}

// Scheduler is the billing clock. One cron tick per hour decides which
// lifecycle jobs are due and runs each under a lock.
type Scheduler struct {
	cron      *cron.Cron
	jobs      lifecycledomain.Service
	locker    Locker
	clock     clock.Clock
	log       *zap.Logger
	loc       *time.Location
	tickSpec  string
	dailyHour int
	weeklyDay time.Weekday
	lockTTL   time.Duration
}

func New(p Params) *Scheduler {
	log := p.Log.Named("scheduler")
	var locker Locker = NewLocalLocker()
	if p.Redsync != nil {
		locker = NewRedisLocker(p.Redsync)
	}

	loc := p.Cfg.Location()
	cronLog := cronLogger{log: log.Sugar()}
	lockTTL := p.Cfg.Billing.JobLockTTL
	if lockTTL <= 0 {
		lockTTL = 50 * time.Minute
	}
	tickSpec := p.Cfg.Billing.TickSpec
	if tickSpec == "" {
		tickSpec = "0 * * * *"
	}

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		jobs:      p.Jobs,
		locker:    locker,
		clock:     p.Clock,
		log:       log,
		loc:       loc,
		tickSpec:  tickSpec,
		dailyHour: p.Cfg.Billing.DailyHour,
		weeklyDay: time.Weekday(p.Cfg.Billing.WeeklyDay),
		lockTTL:   lockTTL,
	}
}

// Register starts the cron loop with the fx lifecycle.
func Register(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return s.Start() },
		OnStop:  s.Stop,
	})
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.tickSpec, func() {
		ctx := context.Background()
		s.Tick(ctx, s.clock.Now(ctx))
	}); err != nil {
		return fmt.Errorf("schedule tick %q: %w", s.tickSpec, err)
	}
	s.cron.Start()
	s.log.Info("scheduler started",
		zap.String("tick", s.tickSpec),
		zap.String("timezone", s.loc.String()),
		zap.Int("daily_hour", s.dailyHour),
		zap.Stringer("weekly_day", s.weeklyDay),
	)
	return nil
}

// Stop waits for a running tick to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DueJobs lists the jobs for the tick at now, in run order. Renewal runs
// before expiry so a subscription renewed today is never expired first.
func (s *Scheduler) DueJobs(now time.Time) []string {
	local := now.In(s.loc)
	if local.Hour() != s.dailyHour {
		return []string{lifecycledomain.JobExpireDueSubscriptions}
	}
	due := []string{
		lifecycledomain.JobAutoRenewSubscriptions,
		lifecycledomain.JobExpireDueSubscriptions,
		lifecycledomain.JobSendExpiryReminders,
		lifecycledomain.JobCheckOverdueInvoices,
	}
	if local.Weekday() == s.weeklyDay {
		due = append(due, lifecycledomain.JobCleanupOldRecords)
	}
	return due
}

// Tick runs every job due at now. A failing or locked job does not stop
// the ones after it.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []lifecycledomain.JobResult {
	var results []lifecycledomain.JobResult
	for _, job := range s.DueJobs(now) {
		res, err := s.RunJob(ctx, job)
		switch {
		case errors.Is(err, ErrJobLocked):
			continue
		case err != nil:
			s.log.Error("job failed", zap.String("job", job), zap.Error(err))
		}
		results = append(results, res)
	}
	return results
}

// RunJob runs one named job if no other runner holds its lock.
func (s *Scheduler) RunJob(ctx context.Context, job string) (lifecycledomain.JobResult, error) {
	if !lo.Contains(lifecycledomain.Jobs, job) {
		return lifecycledomain.JobResult{Job: job}, lifecycledomain.ErrUnknownJob
	}

	release, ok, err := s.locker.TryLock(ctx, job, s.lockTTL)
	if err != nil {
		return lifecycledomain.JobResult{Job: job}, fmt.Errorf("lock %s: %w", job, err)
	}
	if !ok {
		s.log.Info("job already running elsewhere, skipping", zap.String("job", job))
		return lifecycledomain.JobResult{Job: job}, ErrJobLocked
	}
	defer release()

	return s.jobs.Run(ctx, job)
}

// cronLogger routes cron's logr-style calls to zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
