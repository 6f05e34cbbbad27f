// Package billingtest opens an in-memory store with every billing table and
// seeds common fixtures.
package billingtest

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	invoicedomain "github.com/railzwaylabs/membership/internal/invoice/domain"
	memberdomain "github.com/railzwaylabs/membership/internal/member/domain"
	"github.com/railzwaylabs/membership/internal/migration"
	organizationdomain "github.com/railzwaylabs/membership/internal/organization/domain"
	plandomain "github.com/railzwaylabs/membership/internal/plan/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(migration.Models()...))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Fixture is one organization with a member and a monthly plan.
type Fixture struct {
	DB     *gorm.DB
	Node   *snowflake.Node
	Org    *organizationdomain.Organization
	Member *memberdomain.Member
	Plan   *plandomain.Plan
}

func Seed(t *testing.T) *Fixture {
	t.Helper()
	db := OpenDB(t)
	node := Node(t)

	org := &organizationdomain.Organization{ID: node.Generate(), Name: "Iron Gym", Slug: "iron-gym", Status: organizationdomain.StatusActive}
	require.NoError(t, db.Create(org).Error)

	member := &memberdomain.Member{
		ID:             node.Generate(),
		OrganizationID: org.ID,
		Email:          "ada@example.com",
		Phone:          "+2348000000001",
		FirstName:      "Ada",
		LastName:       "Obi",
	}
	require.NoError(t, db.Create(member).Error)

	plan := &plandomain.Plan{
		ID:             node.Generate(),
		OrganizationID: org.ID,
		Name:           "Gold",
		Price:          5000,
		Currency:       "NGN",
		Interval:       plandomain.IntervalMonthly,
		IntervalCount:  1,
		IsActive:       true,
	}
	require.NoError(t, db.Create(plan).Error)

	return &Fixture{DB: db, Node: node, Org: org, Member: member, Plan: plan}
}

func (f *Fixture) Subscription(t *testing.T, status subscriptiondomain.Status, expiresAt time.Time) *subscriptiondomain.Subscription {
	t.Helper()
	sub := &subscriptiondomain.Subscription{
		ID:             f.Node.Generate(),
		OrganizationID: f.Org.ID,
		MemberID:       f.Member.ID,
		PlanID:         f.Plan.ID,
		Status:         status,
		StartedAt:      expiresAt.AddDate(0, -1, 0).UTC(),
		ExpiresAt:      expiresAt.UTC(),
		AutoRenew:      true,
		Metadata:       datatypes.JSONMap{},
		Version:        1,
	}
	require.NoError(t, f.DB.Create(sub).Error)
	return sub
}

func (f *Fixture) Invoice(t *testing.T, sub *subscriptiondomain.Subscription, status invoicedomain.Status, due time.Time) *invoicedomain.Invoice {
	t.Helper()
	inv := &invoicedomain.Invoice{
		ID:            f.Node.Generate(),
		IssuerOrgID:   f.Org.ID,
		BilledUserID:  f.Member.ID,
		Kind:          invoicedomain.KindAdHoc,
		InvoiceNumber: "INV-" + f.Node.Generate().String(),
		Amount:        f.Plan.Price,
		Currency:      f.Plan.Currency,
		Status:        status,
		DueDate:       due.UTC(),
		Metadata:      datatypes.JSONMap{},
		Version:       1,
	}
	if sub != nil {
		inv.MemberSubscriptionID = &sub.ID
		inv.Kind = invoicedomain.KindRenewal
	}
	require.NoError(t, f.DB.Create(inv).Error)
	return inv
}
