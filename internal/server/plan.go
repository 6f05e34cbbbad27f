package server

import (
	"github.com/gin-gonic/gin"
	plandomain "github.com/railzwaylabs/membership/internal/plan/domain"
)

type createPlanRequest struct {
	Name          string `json:"name" binding:"required"`
	Price         int64  `json:"price" binding:"required"`
	Currency      string `json:"currency"`
	Interval      string `json:"interval" binding:"required"`
	IntervalCount int    `json:"interval_count"`
}

// CreatePlan
// POST /v1/plans
func (s *Server) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	interval, err := plandomain.ParseInterval(req.Interval)
	if err != nil {
		AbortWithError(c, newValidationError("interval", "invalid_interval", err.Error()))
		return
	}

	plan, err := s.planSvc.Create(c.Request.Context(), plandomain.CreateInput{
		OrganizationID: s.orgIDFromContext(c),
		Name:           req.Name,
		Price:          req.Price,
		Currency:       req.Currency,
		Interval:       interval,
		IntervalCount:  req.IntervalCount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, plan)
}

type updatePlanRequest struct {
	Name          *string `json:"name"`
	Price         *int64  `json:"price"`
	Interval      *string `json:"interval"`
	IntervalCount *int    `json:"interval_count"`
	IsActive      *bool   `json:"is_active"`
}

// UpdatePlan changes a plan. Pricing fields are locked while the plan has
// active subscribers.
// PATCH /v1/plans/:id
func (s *Server) UpdatePlan(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req updatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	input := plandomain.UpdateInput{
		Name:          req.Name,
		Price:         req.Price,
		IntervalCount: req.IntervalCount,
		IsActive:      req.IsActive,
	}
	if req.Interval != nil {
		interval, err := plandomain.ParseInterval(*req.Interval)
		if err != nil {
			AbortWithError(c, newValidationError("interval", "invalid_interval", err.Error()))
			return
		}
		input.Interval = &interval
	}

	plan, err := s.planSvc.Update(c.Request.Context(), s.orgIDFromContext(c), id, input)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, plan)
}
