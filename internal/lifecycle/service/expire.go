package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/lifecycle/domain"
	notificationdomain "github.com/railzwaylabs/membership/internal/notification/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ExpireDueSubscriptions expires active and trialing subscriptions whose
// period has passed. The status change stands even when the notification
// fails.
func (s *Service) ExpireDueSubscriptions(ctx context.Context) (domain.JobResult, error) {
	run := s.startRun(domain.JobExpireDueSubscriptions)
	now := s.clock.Now(ctx).UTC()

	due, err := s.subscriptionRepo.ListDueForExpiry(ctx, s.db, now)
	if err != nil {
		return s.finishRun(run), err
	}

	forEach(ctx, s, run, due, subscriptionID, func(ctx context.Context, candidate subscriptiondomain.Subscription) (itemOutcome, error) {
		var expired *subscriptiondomain.Subscription
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			sub, err := s.subscriptionRepo.FindByIDUnscoped(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			// Renewed or paid since the batch was selected.
			if sub == nil || !sub.ExpiresAt.Before(now) {
				return nil
			}
			if sub.Status != subscriptiondomain.StatusActive && sub.Status != subscriptiondomain.StatusTrialing {
				return nil
			}
			if err := sub.TransitionTo(subscriptiondomain.StatusExpired, now); err != nil {
				return err
			}
			if err := s.subscriptionRepo.Update(ctx, tx, sub); err != nil {
				return err
			}
			expired = sub
			return nil
		})
		if err != nil {
			return itemFailed, err
		}
		if expired == nil {
			return itemSkipped, nil
		}

		s.log.Info("subscription expired",
			zap.String("subscription_id", expired.ID.String()),
			zap.Time("expires_at", expired.ExpiresAt),
		)
		s.notify(ctx, expired.MemberID, notificationdomain.TemplateSubscriptionExpired, map[string]any{
			"subscription_id":   expired.ID.String(),
			"expired_at":        expired.ExpiresAt.Format(time.RFC3339),
			"reactivation_link": s.reactivationLink(expired.ID),
		})
		return itemSucceeded, nil
	})

	return s.finishRun(run), nil
}

func subscriptionID(sub subscriptiondomain.Subscription) snowflake.ID { return sub.ID }
