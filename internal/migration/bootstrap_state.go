package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const bootstrapStatusActive = "active"

var (
	// ErrSchemaBehind means the database has not been migrated to the version
	// embedded in this binary.
	ErrSchemaBehind = errors.New("schema_not_migrated")
	// ErrSchemaDrift means an applied migration was edited after it ran.
	ErrSchemaDrift = errors.New("schema_checksum_mismatch")
)

// bootstrapState is the single row of system_bootstrap_state.
type bootstrapState struct {
	Status   string
	Version  uint
	Checksum sql.NullString
}

func writeBootstrapState(ctx context.Context, db *sql.DB, version uint, checksum string) error {
	if db == nil {
		return errors.New("bootstrap state requires database handle")
	}
	if version == 0 {
		return errors.New("schema version is required for bootstrap state")
	}

	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO system_bootstrap_state (id, status, schema_version, checksum, activated_at, created_at)
		VALUES (TRUE, $1, $2, NULLIF($3, ''), $4, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    schema_version = EXCLUDED.schema_version,
		    checksum = EXCLUDED.checksum,
		    activated_at = EXCLUDED.activated_at
	`, bootstrapStatusActive, strconv.FormatUint(uint64(version), 10), checksum, now)
	if err != nil {
		return fmt.Errorf("write bootstrap state: %w", err)
	}
	return nil
}

func readBootstrapState(ctx context.Context, db *sql.DB) (*bootstrapState, error) {
	var (
		state   bootstrapState
		version string
	)
	err := db.QueryRowContext(ctx,
		`SELECT status, schema_version, checksum FROM system_bootstrap_state WHERE id = TRUE`,
	).Scan(&state.Status, &version, &state.Checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bootstrap state: %w", err)
	}
	parsed, err := strconv.ParseUint(version, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bootstrap state has invalid schema version %q", version)
	}
	state.Version = uint(parsed)
	return &state, nil
}

// CheckSchema reports whether the database runs the migrations embedded in
// this binary. A missing or older state is ErrSchemaBehind; a recorded
// checksum that differs at the same version is ErrSchemaDrift.
func CheckSchema(ctx context.Context, db *sql.DB) error {
	latest, err := LatestMigrationVersion()
	if err != nil {
		return err
	}
	state, err := readBootstrapState(ctx, db)
	if err != nil {
		return err
	}
	if state == nil || state.Status != bootstrapStatusActive {
		return ErrSchemaBehind
	}
	if state.Version != latest {
		return fmt.Errorf("%w: have %d want %d", ErrSchemaBehind, state.Version, latest)
	}

	if state.Checksum.Valid {
		want, err := MigrationsChecksum()
		if err != nil {
			return err
		}
		if state.Checksum.String != want {
			return ErrSchemaDrift
		}
	}
	return nil
}
