package server

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	MemberID  string         `json:"member_id" binding:"required"`
	PlanID    string         `json:"plan_id" binding:"required"`
	TrialDays int            `json:"trial_days"`
	AutoRenew *bool          `json:"auto_renew,omitempty"`
	StartAt   *time.Time     `json:"start_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type createSubscriptionResponse struct {
	Subscription *subscriptiondomain.Subscription `json:"subscription"`
	InvoiceID    string                           `json:"invoice_id"`
}

// CreateSubscription enrolls a member in a plan and issues the first invoice.
// POST /v1/subscriptions
func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	memberID, err := bodyID("member_id", req.MemberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	planID, err := bodyID("plan_id", req.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if req.TrialDays < 0 {
		AbortWithError(c, newValidationError("trial_days", "invalid_trial_days", "trial_days must not be negative"))
		return
	}

	created, err := s.subscriptionSvc.Create(c.Request.Context(), subscriptiondomain.CreateInput{
		OrganizationID: s.orgIDFromContext(c),
		MemberID:       memberID,
		PlanID:         planID,
		TrialDays:      req.TrialDays,
		AutoRenew:      req.AutoRenew,
		StartAt:        req.StartAt,
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, createSubscriptionResponse{
		Subscription: created.Subscription,
		InvoiceID:    created.InvoiceID.String(),
	})
}

// GetSubscription
// GET /v1/subscriptions/:id
func (s *Server) GetSubscription(c *gin.Context) {
	s.subscriptionAction(c, s.subscriptionSvc.Get)
}

// CancelSubscription
// POST /v1/subscriptions/:id/cancel
func (s *Server) CancelSubscription(c *gin.Context) {
	s.subscriptionAction(c, s.subscriptionSvc.Cancel)
}

// PauseSubscription
// POST /v1/subscriptions/:id/pause
func (s *Server) PauseSubscription(c *gin.Context) {
	s.subscriptionAction(c, s.subscriptionSvc.Pause)
}

// ResumeSubscription
// POST /v1/subscriptions/:id/resume
func (s *Server) ResumeSubscription(c *gin.Context) {
	s.subscriptionAction(c, s.subscriptionSvc.Resume)
}

// ReactivateSubscription returns the invoice a lapsed member pays to come
// back. The subscription turns active when that invoice is paid.
// POST /v1/subscriptions/:id/reactivate
func (s *Server) ReactivateSubscription(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	invoiceID, err := s.subscriptionSvc.Reactivate(c.Request.Context(), s.orgIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{
		"invoice_id": invoiceID.String(),
		"pay_path":   "/v1/invoices/" + invoiceID.String() + "/pay",
	})
}

func (s *Server) subscriptionAction(c *gin.Context, action func(context.Context, snowflake.ID, snowflake.ID) (*subscriptiondomain.Subscription, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sub, err := action(c.Request.Context(), s.orgIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, sub)
}
