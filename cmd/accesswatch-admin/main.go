// Command accesswatch-admin provides operator tooling for the scan
// pipeline: migrations, queue inspection and cleanup, metrics recompute,
// and suppression review.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/accesswatch/accesswatch/config"
	"github.com/accesswatch/accesswatch/internal/bootstrap"
)

type commandFn func(cmdCtx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
}

const commandTimeout = 2 * time.Minute

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmdName)
		printUsage()
		os.Exit(2)
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := bootstrap.InitLogger(cfg.Observability, os.Stderr)

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1)
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrate,
		},
		"queue-stats": {
			name:        "queue-stats",
			description: "Show job counts per queue status",
			run:         runQueueStats,
		},
		"queue-clear": {
			name:        "queue-clear",
			description: "Remove all pending, completed, and failed jobs",
			run:         runQueueClear,
		},
		"metrics-recompute": {
			name:        "metrics-recompute",
			description: "Rebuild the metrics cache for a project",
			run:         runMetricsRecompute,
		},
		"backfill-selectors": {
			name:        "backfill-selectors",
			description: "Run selector backfill passes for a project until none remain",
			run:         runBackfillSelectors,
		},
		"list-suppressions": {
			name:        "list-suppressions",
			description: "List suppression rules for a project",
			run:         runListSuppressions,
		},
	}
}

func printUsage() {
	fmt.Fprintf(os.Stdout, "Usage: accesswatch-admin <command> [flags]\n\n")
	fmt.Fprintf(os.Stdout, "Available commands:\n")
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stdout, "  %-20s %s\n", name, cmds[name].description)
	}
}

func runMigrate(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 5*time.Minute, "migration timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, *timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, cmdCtx.Config.Postgres, cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer closeDB(cmdCtx.Logger, db)

	migrateCfg := cmdCtx.Config.Postgres
	migrateCfg.RunMigrationsOnStart = true
	return bootstrap.MigrateDB(ctx, db, migrateCfg, cmdCtx.Logger)
}

func runQueueStats(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("queue-stats", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	services, cleanup, err := connectServices(ctx, cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := services.Queue.Summary(ctx)
	if err != nil {
		return fmt.Errorf("queue summary: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "STATUS\tCOUNT\n")
	fmt.Fprintf(tw, "pending\t%d\n", summary.Pending)
	fmt.Fprintf(tw, "running\t%d\n", summary.Running)
	fmt.Fprintf(tw, "failed\t%d\n", summary.Failed)
	fmt.Fprintf(tw, "total\t%d\n", summary.Total)
	return tw.Flush()
}

func runQueueClear(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("queue-clear", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return errors.New("refusing to clear the queue without -yes")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	services, cleanup, err := connectServices(ctx, cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	removed, err := services.Queue.Clear(ctx)
	if err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}

	cmdCtx.Logger.Info("queue cleared", "rows_removed", removed)
	return nil
}

func runMetricsRecompute(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("metrics-recompute", flag.ContinueOnError)
	projectID := fs.Int64("project", 0, "project id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID <= 0 {
		return errors.New("-project is required")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	services, cleanup, err := connectServices(ctx, cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := services.Metrics.Recompute(ctx, *projectID); err != nil {
		return fmt.Errorf("recompute metrics: %w", err)
	}

	cmdCtx.Logger.Info("metrics recomputed", "project_id", *projectID)
	return nil
}

func runBackfillSelectors(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("backfill-selectors", flag.ContinueOnError)
	projectID := fs.Int64("project", 0, "project id (required)")
	maxPasses := fs.Int("max-passes", 100, "upper bound on backfill passes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID <= 0 {
		return errors.New("-project is required")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, 10*time.Minute)
	defer cancel()

	services, cleanup, err := connectServices(ctx, cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	var total int64
	for pass := 0; pass < *maxPasses; pass++ {
		updated, err := services.Backfill.Run(ctx, *projectID)
		if err != nil {
			return fmt.Errorf("backfill pass %d: %w", pass+1, err)
		}
		total += updated
		if updated == 0 {
			break
		}
	}

	cmdCtx.Logger.Info("selector backfill complete", "project_id", *projectID, "rows_updated", total)
	return nil
}

func runListSuppressions(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-suppressions", flag.ContinueOnError)
	projectID := fs.Int64("project", 0, "project id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectID <= 0 {
		return errors.New("-project is required")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, commandTimeout)
	defer cancel()

	services, cleanup, err := connectServices(ctx, cmdCtx)
	if err != nil {
		return err
	}
	defer cleanup()

	rules, err := services.Aggregation.ListSuppressions(ctx, *projectID)
	if err != nil {
		return fmt.Errorf("list suppressions: %w", err)
	}
	elements, err := services.Aggregation.ListElementSuppressions(ctx, *projectID)
	if err != nil {
		return fmt.Errorf("list element suppressions: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tITEM\tCATEGORY\tREASON\tCREATED\n")
	for _, rule := range rules {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			rule.ID, rule.ItemID, rule.Category, rule.Reason,
			rule.CreatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "\n%d item rules, %d element rules\n", len(rules), len(elements))
	return nil
}

// connectServices builds the full service layer against live
// infrastructure. The returned cleanup closes both connections.
func connectServices(ctx context.Context, cmdCtx *commandContext) (*bootstrap.Services, func(), error) {
	db, err := bootstrap.ConnectDB(ctx, cmdCtx.Config.Postgres, cmdCtx.Logger)
	if err != nil {
		return nil, nil, err
	}

	redisClient, err := bootstrap.ConnectRedis(ctx, cmdCtx.Config.Redis, cmdCtx.Logger)
	if err != nil {
		closeDB(cmdCtx.Logger, db)
		return nil, nil, err
	}

	services, err := bootstrap.NewServices(bootstrap.ServiceDeps{
		DB:     db,
		Redis:  redisClient,
		Config: &cmdCtx.Config,
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		closeRedis(cmdCtx.Logger, redisClient)
		closeDB(cmdCtx.Logger, db)
		return nil, nil, err
	}

	cleanup := func() {
		closeRedis(cmdCtx.Logger, redisClient)
		closeDB(cmdCtx.Logger, db)
	}
	return services, cleanup, nil
}

func closeDB(logger *slog.Logger, db *sql.DB) {
	if err := db.Close(); err != nil {
		logger.Warn("db close failed", "error", err)
	}
}

func closeRedis(logger *slog.Logger, client *redis.Client) {
	if err := client.Close(); err != nil {
		logger.Warn("redis close failed", "error", err)
	}
}
