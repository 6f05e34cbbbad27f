package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/membership/internal/apperror"
	"github.com/railzwaylabs/membership/internal/organization/domain"
	"github.com/railzwaylabs/membership/internal/organization/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Organization{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return &Service{db: db, log: zap.NewNop(), genID: node, repo: repository.Provide()}
}

func TestCreateGeneratesUniqueSlugs(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, domain.CreateInput{Name: "Iron Temple Gym"})
	require.NoError(t, err)
	require.Equal(t, "iron-temple-gym", first.Slug)

	second, err := svc.Create(ctx, domain.CreateInput{Name: "Iron Temple  Gym!"})
	require.NoError(t, err)
	require.Equal(t, "iron-temple-gym-2", second.Slug)
}

func TestCreateRejectsBlankName(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Create(context.Background(), domain.CreateInput{Name: "  "})
	require.ErrorIs(t, err, apperror.ErrInvalidArgument)
}
