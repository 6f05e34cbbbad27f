package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	memberdomain "github.com/railzwaylabs/membership/internal/member/domain"
	organizationdomain "github.com/railzwaylabs/membership/internal/organization/domain"
)

type createOrganizationRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
}

// CreateOrganization
// POST /v1/organizations
func (s *Server) CreateOrganization(c *gin.Context) {
	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	org, err := s.organizationSvc.Create(c.Request.Context(), organizationdomain.CreateInput{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, org)
}

type createMemberRequest struct {
	Email     string `json:"email" binding:"required"`
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// CreateMember
// POST /v1/members
func (s *Server) CreateMember(c *gin.Context) {
	var req createMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	member, err := s.memberSvc.Create(c.Request.Context(), memberdomain.CreateInput{
		OrganizationID: s.orgIDFromContext(c),
		Email:          strings.TrimSpace(req.Email),
		Phone:          req.Phone,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondCreated(c, member)
}

// GetMember
// GET /v1/members/:id
func (s *Server) GetMember(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	member, err := s.memberSvc.Get(c.Request.Context(), s.orgIDFromContext(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, member)
}
