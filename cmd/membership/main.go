package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/membership/internal/clock"
	"github.com/railzwaylabs/membership/internal/config"
	"github.com/railzwaylabs/membership/internal/invoice"
	"github.com/railzwaylabs/membership/internal/lifecycle"
	lifecycledomain "github.com/railzwaylabs/membership/internal/lifecycle/domain"
	"github.com/railzwaylabs/membership/internal/member"
	"github.com/railzwaylabs/membership/internal/migration"
	"github.com/railzwaylabs/membership/internal/notification"
	"github.com/railzwaylabs/membership/internal/observability"
	"github.com/railzwaylabs/membership/internal/organization"
	"github.com/railzwaylabs/membership/internal/payment"
	"github.com/railzwaylabs/membership/internal/plan"
	"github.com/railzwaylabs/membership/internal/redis"
	"github.com/railzwaylabs/membership/internal/scheduler"
	"github.com/railzwaylabs/membership/internal/seed"
	"github.com/railzwaylabs/membership/internal/server"
	"github.com/railzwaylabs/membership/internal/subscription"
	"github.com/railzwaylabs/membership/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "membership",
		Short:   "Membership billing engine",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(
		newMigrateCmd(),
		newServeCmd(),
		newSchedulerCmd(),
		newAllCmd(),
		newRunJobCmd(),
		newSeedCmd(),
	)
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and webhook receiver",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(
				billingModules(),
				fx.Invoke(requireSchema),
				server.Module,
				fx.Invoke(server.Register),
			).Run()
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the billing job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(
				billingModules(),
				fx.Invoke(requireSchema),
				scheduler.Module,
				fx.Invoke(scheduler.Register),
			).Run()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the API and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			fx.New(
				billingModules(),
				server.Module,
				scheduler.Module,
				fx.Invoke(server.Register),
				fx.Invoke(scheduler.Register),
			).Run()
			return nil
		},
	}
}

func newRunJobCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:       "run-job <name>",
		Short:     "Run one billing job immediately",
		Args:      cobra.ExactArgs(1),
		ValidArgs: lifecycledomain.Jobs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if strings.TrimSpace(at) != "" {
				simulated, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				ctx = clock.WithSimulatedTime(ctx, simulated)
			}

			var sched *scheduler.Scheduler
			return runOnce(func(context.Context) error {
				res, err := sched.RunJob(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}, billingModules(), scheduler.Module, fx.Populate(&sched))
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate the job as of this RFC3339 instant")
	return cmd
}

func newSeedCmd() *cobra.Command {
	var opts seed.Options
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo organization, plan and member",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				conn *gorm.DB
				node *snowflake.Node
			)
			return runOnce(func(ctx context.Context) error {
				res, err := seed.Ensure(ctx, conn, node, opts)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}, coreModules(), fx.Populate(&conn, &node))
		},
	}
	cmd.Flags().StringVar(&opts.OrgName, "org", "", "organization name")
	cmd.Flags().StringVar(&opts.PlanName, "plan", "", "plan name")
	cmd.Flags().Int64Var(&opts.PlanPrice, "price", 0, "plan price in whole currency units")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "plan currency")
	cmd.Flags().StringVar(&opts.MemberEmail, "email", "", "member email")
	return cmd
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

// runOnce starts an fx app, runs fn against it and stops it again.
func runOnce(fn func(ctx context.Context) error, opts ...fx.Option) error {
	app := fx.New(append(opts, fx.NopLogger)...)
	if err := app.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()
	return fn(ctx)
}

func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
	)
}

func billingModules() fx.Option {
	return fx.Options(
		coreModules(),
		redis.Module,
		notification.Module,
		organization.Module,
		member.Module,
		plan.Module,
		subscription.Module,
		invoice.Module,
		payment.Module,
		lifecycle.Module,
	)
}

// requireSchema refuses to start long-running processes against a postgres
// database that has not been migrated.
func requireSchema(lc fx.Lifecycle, cfg config.Config, conn *gorm.DB, log *zap.Logger) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if driver != "" && driver != "postgres" && driver != "postgresql" {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := migration.CheckSchema(ctx, sqlDB); err != nil {
				log.Error("schema check failed; run `membership migrate`", zap.Error(err))
				return err
			}
			return nil
		},
	})
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.App.NodeID)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
