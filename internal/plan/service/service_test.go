package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/plan/domain"
	"github.com/railzwaylabs/membership/internal/plan/repository"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	subscriptionrepository "github.com/railzwaylabs/membership/internal/subscription/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Plan{}, &subscriptiondomain.Subscription{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &Service{
		db:       db,
		log:      zap.NewNop(),
		genID:    node,
		repo:     repository.Provide(),
		subRepo:  subscriptionrepository.Provide(),
		currency: "NGN",
	}, db
}

func TestCreateDefaults(t *testing.T) {
	svc, _ := newTestService(t)

	plan, err := svc.Create(context.Background(), domain.CreateInput{
		OrganizationID: 1,
		Name:           " Gold ",
		Price:          5000,
		Interval:       domain.IntervalMonthly,
	})
	require.NoError(t, err)
	require.Equal(t, "Gold", plan.Name)
	require.Equal(t, "NGN", plan.Currency)
	require.Equal(t, 1, plan.IntervalCount)
	require.True(t, plan.IsActive)
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(context.Background(), domain.CreateInput{OrganizationID: 1, Name: "x", Price: 0, Interval: domain.IntervalMonthly})
	require.True(t, errors.Is(err, apperror.ErrInvalidArgument))

	_, err = svc.Create(context.Background(), domain.CreateInput{OrganizationID: 1, Name: "x", Price: 10, Interval: "daily"})
	require.True(t, errors.Is(err, apperror.ErrInvalidArgument))
}

func subscribe(t *testing.T, svc *Service, plan *domain.Plan, status subscriptiondomain.Status) *subscriptiondomain.Subscription {
	t.Helper()
	now := time.Now().UTC()
	sub := &subscriptiondomain.Subscription{
		ID:             svc.genID.Generate(),
		OrganizationID: plan.OrganizationID,
		MemberID:       42,
		PlanID:         plan.ID,
		Status:         status,
		StartedAt:      now,
		ExpiresAt:      now.AddDate(0, 1, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, svc.db.Create(sub).Error)
	return sub
}

func TestUpdatePricingLockedByActiveSubscription(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, domain.CreateInput{OrganizationID: 1, Name: "Gold", Price: 5000, Interval: domain.IntervalMonthly})
	require.NoError(t, err)
	sub := subscribe(t, svc, plan, subscriptiondomain.StatusActive)

	price := int64(6000)
	_, err = svc.Update(ctx, 1, plan.ID, domain.UpdateInput{Price: &price})
	require.True(t, errors.Is(err, apperror.ErrInvalidState))

	name := "Gold Plus"
	updated, err := svc.Update(ctx, 1, plan.ID, domain.UpdateInput{Name: &name})
	require.NoError(t, err)
	require.Equal(t, "Gold Plus", updated.Name)

	require.NoError(t, db.Model(sub).Update("status", subscriptiondomain.StatusCanceled).Error)
	updated, err = svc.Update(ctx, 1, plan.ID, domain.UpdateInput{Price: &price})
	require.NoError(t, err)
	require.Equal(t, int64(6000), updated.Price)
	require.WithinDuration(t, time.Now(), updated.UpdatedAt, time.Minute)
}

func TestUpdatePricingIgnoresInactiveSubscriptions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, status := range []subscriptiondomain.Status{
		subscriptiondomain.StatusPaused,
		subscriptiondomain.StatusExpired,
		subscriptiondomain.StatusTrialing,
	} {
		plan, err := svc.Create(ctx, domain.CreateInput{OrganizationID: 1, Name: "Gold " + string(status), Price: 5000, Interval: domain.IntervalMonthly})
		require.NoError(t, err)
		subscribe(t, svc, plan, status)

		interval := domain.IntervalYearly
		updated, err := svc.Update(ctx, 1, plan.ID, domain.UpdateInput{Interval: &interval})
		require.NoError(t, err, status)
		require.Equal(t, domain.IntervalYearly, updated.Interval)
	}
}

func TestUpdateOtherOrganizationIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	plan, err := svc.Create(ctx, domain.CreateInput{OrganizationID: 1, Name: "Gold", Price: 5000, Interval: domain.IntervalMonthly})
	require.NoError(t, err)

	active := false
	_, err = svc.Update(ctx, 2, plan.ID, domain.UpdateInput{IsActive: &active})
	require.True(t, errors.Is(err, apperror.ErrNotFound))
}
