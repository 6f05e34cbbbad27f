package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/railzwaylabs/membership/internal/clock"
	"github.com/railzwaylabs/membership/internal/config"
	lifecycledomain "github.com/railzwaylabs/membership/internal/lifecycle/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeJobs struct {
	lifecycledomain.Service
	mu   sync.Mutex
	ran  []string
	fail map[string]error
}

func (f *fakeJobs) Run(_ context.Context, job string) (lifecycledomain.JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, job)
	return lifecycledomain.JobResult{Job: job, Processed: 1, Succeeded: 1}, f.fail[job]
}

func newScheduler(t *testing.T, jobs *fakeJobs, rs *redsync.Redsync) *Scheduler {
	t.Helper()
	return New(Params{
		Cfg: config.Config{
			App:     config.AppConfig{Timezone: "Africa/Lagos"},
			Billing: config.BillingConfig{DailyHour: 9, WeeklyDay: int(time.Sunday)},
		},
		Log:     zap.NewNop(),
		Clock:   clock.SystemClock{},
		Jobs:    jobs,
		Redsync: rs,
	})
}

func TestDueJobs(t *testing.T) {
	s := newScheduler(t, &fakeJobs{}, nil)
	lagos, err := time.LoadLocation("Africa/Lagos")
	require.NoError(t, err)

	cases := []struct {
		name string
		at   time.Time
		want []string
	}{
		{
			name: "off hour expires only",
			at:   time.Date(2024, 3, 14, 15, 0, 0, 0, lagos),
			want: []string{lifecycledomain.JobExpireDueSubscriptions},
		},
		{
			name: "daily hour renews before expiring",
			at:   time.Date(2024, 3, 14, 9, 0, 0, 0, lagos),
			want: []string{
				lifecycledomain.JobAutoRenewSubscriptions,
				lifecycledomain.JobExpireDueSubscriptions,
				lifecycledomain.JobSendExpiryReminders,
				lifecycledomain.JobCheckOverdueInvoices,
			},
		},
		{
			name: "weekly day adds cleanup",
			at:   time.Date(2024, 3, 17, 9, 0, 0, 0, lagos),
			want: []string{
				lifecycledomain.JobAutoRenewSubscriptions,
				lifecycledomain.JobExpireDueSubscriptions,
				lifecycledomain.JobSendExpiryReminders,
				lifecycledomain.JobCheckOverdueInvoices,
				lifecycledomain.JobCleanupOldRecords,
			},
		},
		{
			name: "hour is taken in billing timezone",
			at:   time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC),
			want: []string{
				lifecycledomain.JobAutoRenewSubscriptions,
				lifecycledomain.JobExpireDueSubscriptions,
				lifecycledomain.JobSendExpiryReminders,
				lifecycledomain.JobCheckOverdueInvoices,
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, s.DueJobs(tc.at))
		})
	}
}

func TestTickContinuesAfterFailure(t *testing.T) {
	jobs := &fakeJobs{fail: map[string]error{
		lifecycledomain.JobAutoRenewSubscriptions: errors.New("db unavailable"),
	}}
	s := newScheduler(t, jobs, nil)

	results := s.Tick(context.Background(), time.Date(2024, 3, 14, 8, 0, 0, 0, time.UTC))
	require.Len(t, results, 4)
	require.Equal(t, []string{
		lifecycledomain.JobAutoRenewSubscriptions,
		lifecycledomain.JobExpireDueSubscriptions,
		lifecycledomain.JobSendExpiryReminders,
		lifecycledomain.JobCheckOverdueInvoices,
	}, jobs.ran)
}

func TestRunJobRejectsUnknownName(t *testing.T) {
	s := newScheduler(t, &fakeJobs{}, nil)
	_, err := s.RunJob(context.Background(), "rebuild_ledger")
	require.ErrorIs(t, err, lifecycledomain.ErrUnknownJob)
}

func TestRunJobSkipsWhenLocked(t *testing.T) {
	jobs := &fakeJobs{}
	s := newScheduler(t, jobs, nil)

	release, ok, err := s.locker.TryLock(context.Background(), lifecycledomain.JobExpireDueSubscriptions, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.RunJob(context.Background(), lifecycledomain.JobExpireDueSubscriptions)
	require.ErrorIs(t, err, ErrJobLocked)
	require.Empty(t, jobs.ran)

	release()
	res, err := s.RunJob(context.Background(), lifecycledomain.JobExpireDueSubscriptions)
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
}

func newRedsync(t *testing.T) (*redsync.Redsync, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redsync.New(goredis.NewPool(client)), mr
}

func TestRedisLockerSharedAcrossInstances(t *testing.T) {
	rs, mr := newRedsync(t)
	first := NewRedisLocker(rs)
	second := NewRedisLocker(rs)
	ctx := context.Background()

	release, ok, err := first.TryLock(ctx, "expire_due_subscriptions", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists(lockPrefix+"expire_due_subscriptions"))

	_, ok, err = second.TryLock(ctx, "expire_due_subscriptions", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	release()
	release2, ok, err := second.TryLock(ctx, "expire_due_subscriptions", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	release2()
}

func TestRedisLockerExpires(t *testing.T) {
	rs, mr := newRedsync(t)
	locker := NewRedisLocker(rs)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "cleanup_old_records", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(11 * time.Second)
	_, ok, err = locker.TryLock(ctx, "cleanup_old_records", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSchedulerUsesRedisWhenConfigured(t *testing.T) {
	rs, _ := newRedsync(t)
	s := newScheduler(t, &fakeJobs{}, rs)
	require.IsType(t, &RedisLocker{}, s.locker)

	s = newScheduler(t, &fakeJobs{}, nil)
	require.IsType(t, &LocalLocker{}, s.locker)
}
