// Package seed creates a demo organization with a plan and a member so a
// fresh database can exercise the billing jobs end to end.
package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	memberdomain "github.com/railzwaylabs/membership/internal/member/domain"
	organizationdomain "github.com/railzwaylabs/membership/internal/organization/domain"
	plandomain "github.com/railzwaylabs/membership/internal/plan/domain"
	"gorm.io/gorm"
)

const (
	defaultOrgName     = "Main"
	defaultPlanName    = "Monthly"
	defaultPlanPrice   = 5000
	defaultMemberEmail = "member@example.com"
)

// Options overrides the demo identity. Zero values fall back to defaults.
type Options struct {
	OrgName     string
	PlanName    string
	PlanPrice   int64
	Currency    string
	Interval    plandomain.Interval
	MemberEmail string
	MemberPhone string
}

type Result struct {
	Organization *organizationdomain.Organization
	Plan         *plandomain.Plan
	Member       *memberdomain.Member
}

// Ensure is idempotent: existing rows matched by slug, plan name and member
// email are returned unchanged.
func Ensure(ctx context.Context, db *gorm.DB, node *snowflake.Node, opts Options) (*Result, error) {
	if db == nil {
		return nil, errors.New("seed database handle is required")
	}
	if node == nil {
		return nil, errors.New("seed id generator is required")
	}
	opts = withDefaults(opts)

	var res Result
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := ensureOrgTx(tx, node, opts.OrgName)
		if err != nil {
			return err
		}
		plan, err := ensurePlanTx(tx, node, org.ID, opts)
		if err != nil {
			return err
		}
		member, err := ensureMemberTx(tx, node, org.ID, opts)
		if err != nil {
			return err
		}
		res = Result{Organization: org, Plan: plan, Member: member}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func withDefaults(opts Options) Options {
	if strings.TrimSpace(opts.OrgName) == "" {
		opts.OrgName = defaultOrgName
	}
	if strings.TrimSpace(opts.PlanName) == "" {
		opts.PlanName = defaultPlanName
	}
	if opts.PlanPrice <= 0 {
		opts.PlanPrice = defaultPlanPrice
	}
	if strings.TrimSpace(opts.Currency) == "" {
		opts.Currency = "NGN"
	}
	opts.Currency = strings.ToUpper(strings.TrimSpace(opts.Currency))
	if !opts.Interval.Valid() {
		opts.Interval = plandomain.IntervalMonthly
	}
	if strings.TrimSpace(opts.MemberEmail) == "" {
		opts.MemberEmail = defaultMemberEmail
	}
	opts.MemberEmail = strings.ToLower(strings.TrimSpace(opts.MemberEmail))
	return opts
}

func ensureOrgTx(tx *gorm.DB, node *snowflake.Node, name string) (*organizationdomain.Organization, error) {
	orgSlug := slug.Make(name)
	var org organizationdomain.Organization
	err := tx.Where("slug = ?", orgSlug).First(&org).Error
	if err == nil {
		return &org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	org = organizationdomain.Organization{
		ID:     node.Generate(),
		Name:   name,
		Slug:   orgSlug,
		Status: organizationdomain.StatusActive,
	}
	if err := tx.Create(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func ensurePlanTx(tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID, opts Options) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := tx.Where("organization_id = ? AND name = ?", orgID, opts.PlanName).First(&plan).Error
	if err == nil {
		return &plan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	plan = plandomain.Plan{
		ID:             node.Generate(),
		OrganizationID: orgID,
		Name:           opts.PlanName,
		Price:          opts.PlanPrice,
		Currency:       opts.Currency,
		Interval:       opts.Interval,
		IntervalCount:  1,
		IsActive:       true,
	}
	if err := tx.Create(&plan).Error; err != nil {
		return nil, err
	}
	return &plan, nil
}

func ensureMemberTx(tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID, opts Options) (*memberdomain.Member, error) {
	var member memberdomain.Member
	err := tx.Where("organization_id = ? AND email = ?", orgID, opts.MemberEmail).First(&member).Error
	if err == nil {
		return &member, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	member = memberdomain.Member{
		ID:             node.Generate(),
		OrganizationID: orgID,
		Email:          opts.MemberEmail,
		Phone:          strings.TrimSpace(opts.MemberPhone),
		FirstName:      "Demo",
		LastName:       "Member",
	}
	if err := tx.Create(&member).Error; err != nil {
		return nil, err
	}
	return &member, nil
}
