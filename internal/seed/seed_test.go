package seed

import (
	"context"
	"testing"

	"github.com/railzwaylabs/membership/internal/billingtest"
	memberdomain "github.com/railzwaylabs/membership/internal/member/domain"
	"github.com/stretchr/testify/require"
)

func TestEnsureIsIdempotent(t *testing.T) {
	db := billingtest.OpenDB(t)
	node := billingtest.Node(t)
	ctx := context.Background()

	first, err := Ensure(ctx, db, node, Options{OrgName: "Iron Gym", MemberEmail: "Ada@Example.com"})
	require.NoError(t, err)
	require.Equal(t, "iron-gym", first.Organization.Slug)
	require.Equal(t, "ada@example.com", first.Member.Email)
	require.EqualValues(t, 5000, first.Plan.Price)
	require.True(t, first.Plan.IsActive)

	second, err := Ensure(ctx, db, node, Options{OrgName: "Iron Gym", MemberEmail: "ada@example.com"})
	require.NoError(t, err)
	require.Equal(t, first.Organization.ID, second.Organization.ID)
	require.Equal(t, first.Plan.ID, second.Plan.ID)
	require.Equal(t, first.Member.ID, second.Member.ID)

	var members int64
	require.NoError(t, db.Model(&memberdomain.Member{}).Count(&members).Error)
	require.EqualValues(t, 1, members)
}
