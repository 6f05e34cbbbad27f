package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/railzwaylabs/membership/internal/config"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	require.False(t, IsUniqueViolation(nil))
	require.False(t, IsUniqueViolation(errors.New("connection refused")))
	require.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	require.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: invoices.invoice_number")))
}

func TestDialectorRejectsUnknownDriver(t *testing.T) {
	_, err := dialector(config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)

	d, err := dialector(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"})
	require.NoError(t, err)
	require.Equal(t, "sqlite", d.Name())
}
