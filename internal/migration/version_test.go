package migration

import (
	"context"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/railzwaylabs/membership/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestEmbeddedMigrations(t *testing.T) {
	version, err := LatestMigrationVersion()
	require.NoError(t, err)
	require.EqualValues(t, 1, version)

	first, err := MigrationsChecksum()
	require.NoError(t, err)
	second, err := MigrationsChecksum()
	require.NoError(t, err)
	require.Len(t, first, 64)
	require.Equal(t, first, second)

	up, err := embeddedMigrations.ReadFile(migrationsDir + "/0001_membership_billing.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(up), "WHERE status = 'active'")
	require.Contains(t, string(up), "ON DELETE SET NULL")
}

func TestParseMigrationVersion(t *testing.T) {
	cases := map[string]struct {
		version uint
		ok      bool
	}{
		"0001_membership_billing.up.sql": {1, true},
		"0012_add_index.up.sql":          {12, true},
		"init.up.sql":                    {0, false},
		"_missing.up.sql":                {0, false},
	}
	for name, want := range cases {
		got, ok := parseMigrationVersion(name)
		require.Equal(t, want.ok, ok, name)
		require.Equal(t, want.version, got, name)
	}
}

func TestRunAutoMigratesNonPostgres(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	cfg := config.Config{Database: config.DatabaseConfig{Driver: "sqlite"}}
	require.NoError(t, Run(conn, cfg, zap.NewNop()))

	for _, table := range []string{"organizations", "members", "member_plans", "member_subscriptions", "invoices", "payments", "payment_authorizations", "payment_events", "reminder_logs"} {
		require.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestAdvisoryLockKeyIsStable(t *testing.T) {
	require.Equal(t, advisoryLockKey("schema"), advisoryLockKey("schema"))
	require.NotEqual(t, advisoryLockKey("schema"), advisoryLockKey("seed"))
	require.Positive(t, advisoryLockKey("schema"))
}

func TestCheckSchema(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, conn.Exec(`CREATE TABLE system_bootstrap_state (
		id BOOLEAN PRIMARY KEY, status TEXT NOT NULL, schema_version TEXT NOT NULL,
		checksum TEXT, activated_at TIMESTAMP NOT NULL, created_at TIMESTAMP NOT NULL)`).Error)
	require.ErrorIs(t, CheckSchema(ctx, sqlDB), ErrSchemaBehind)

	checksum, err := MigrationsChecksum()
	require.NoError(t, err)
	require.NoError(t, conn.Exec(`INSERT INTO system_bootstrap_state VALUES (TRUE, 'active', '1', ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`, checksum).Error)
	require.NoError(t, CheckSchema(ctx, sqlDB))

	require.NoError(t, conn.Exec(`UPDATE system_bootstrap_state SET checksum = 'edited'`).Error)
	require.ErrorIs(t, CheckSchema(ctx, sqlDB), ErrSchemaDrift)

	require.NoError(t, conn.Exec(`UPDATE system_bootstrap_state SET schema_version = '0', checksum = NULL`).Error)
	require.ErrorIs(t, CheckSchema(ctx, sqlDB), ErrSchemaBehind)
}
