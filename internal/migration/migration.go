package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/railzwaylabs/membership/internal/config"
	invoicedomain "github.com/railzwaylabs/membership/internal/invoice/domain"
	lifecycledomain "github.com/railzwaylabs/membership/internal/lifecycle/domain"
	memberdomain "github.com/railzwaylabs/membership/internal/member/domain"
	organizationdomain "github.com/railzwaylabs/membership/internal/organization/domain"
	paymentdomain "github.com/railzwaylabs/membership/internal/payment/domain"
	plandomain "github.com/railzwaylabs/membership/internal/plan/domain"
	subscriptiondomain "github.com/railzwaylabs/membership/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table owned by the service, in dependency order.
func Models() []any {
	return []any{
		&organizationdomain.Organization{},
		&memberdomain.Member{},
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
		&paymentdomain.Authorization{},
		&paymentdomain.EventRecord{},
		&lifecycledomain.ReminderLog{},
	}
}

// Run brings the schema up to date. Postgres uses the embedded SQL
// migrations; other drivers are development stores and get AutoMigrate.
func Run(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	driver := strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if driver != "" && driver != "postgres" && driver != "postgresql" {
		log.Warn("using automigrate for non-postgres driver", zap.String("driver", driver))
		return conn.AutoMigrate(Models()...)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	log.Info("schema up to date")
	return nil
}

// RunMigrations applies all embedded migrations under an advisory lock and
// records the schema version in system_bootstrap_state.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	lock, err := acquireAdvisoryLock(ctx, db, "schema")
	if err != nil {
		return err
	}
	defer func() {
		_ = lock.release(context.Background())
	}()

	latestVersion, err := LatestMigrationVersion()
	if err != nil {
		return err
	}
	expectedChecksum, err := MigrationsChecksum()
	if err != nil {
		return err
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if _, err := ensureNotDirty(migrator); err != nil {
		return err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}

	currentVersion, err := ensureNotDirty(migrator)
	if err != nil {
		return err
	}
	if currentVersion != latestVersion {
		return fmt.Errorf("schema version mismatch after migrate: got %d want %d", currentVersion, latestVersion)
	}

	return writeBootstrapState(ctx, db, latestVersion, expectedChecksum)
}

func ensureNotDirty(migrator *migrate.Migrate) (uint, error) {
	if migrator == nil {
		return 0, errors.New("migrator is required")
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return version, nil
}
