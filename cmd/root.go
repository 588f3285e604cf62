// Package cmd defines the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pncp-tools/harvester/internal/clock/system"
	"github.com/pncp-tools/harvester/internal/config"
	"github.com/pncp-tools/harvester/internal/id/uuid"
	"github.com/pncp-tools/harvester/internal/logging"
	"github.com/pncp-tools/harvester/internal/status"
	"github.com/pncp-tools/harvester/internal/storage/postgres"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Exactly-once harvester for Brazil's PNCP procurement API",
		Long: `harvester extracts public procurement data from PNCP's consultation
endpoints. It expands a date range into a deterministic task plan, lets a
pool of workers claim tasks through atomic database leases, deduplicates
response payloads by content digest, and records every page durably so an
interrupted extraction resumes exactly where it stopped.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: defaults plus HARVESTER_* environment)")

	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newHarvestCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the wired service dependencies shared by subcommands.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool

	clock *system.Clock
	ids   *uuid.Generator

	tasks    *postgres.TaskStore
	plans    *postgres.PlanStore
	claims   *postgres.ClaimStore
	contents *postgres.ContentStore
	requests *postgres.RequestStore
	results  *postgres.ResultStore
	statuses *postgres.StatusStore

	aggregator *status.Aggregator
}

// newApp loads configuration, connects the database and wires the stores.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.ConnLifetime(),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	clk := system.New()
	ids := uuid.NewGenerator()

	a := &app{cfg: cfg, logger: logger, pool: pool, clock: clk, ids: ids}
	if a.tasks, err = postgres.NewTaskStore(pool); err != nil {
		return nil, err
	}
	if a.plans, err = postgres.NewPlanStore(pool); err != nil {
		return nil, err
	}
	if a.claims, err = postgres.NewClaimStore(pool, clk, ids); err != nil {
		return nil, err
	}
	if a.contents, err = postgres.NewContentStore(pool, clk); err != nil {
		return nil, err
	}
	if a.requests, err = postgres.NewRequestStore(pool); err != nil {
		return nil, err
	}
	if a.results, err = postgres.NewResultStore(pool); err != nil {
		return nil, err
	}
	if a.statuses, err = postgres.NewStatusStore(pool, clk); err != nil {
		return nil, err
	}
	a.aggregator = status.New(a.claims, a.results, a.statuses, clk)
	return a, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
