package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"noteforge/api/internal/ai"
	"noteforge/api/internal/config"
	"noteforge/api/internal/logging"
	"noteforge/api/internal/projectkey"
	"noteforge/api/internal/search"
	"noteforge/api/internal/session"
	"noteforge/api/internal/store"
)

// cli holds what every subcommand needs. It is filled in by the root
// command's PersistentPreRunE.
type cli struct {
	out     io.Writer
	cfg     config.Config
	logger  *zap.Logger
	timeout time.Duration
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "noteforgectl",
		Short:         "Maintenance commands for the Noteforge API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, "console")
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = logger
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 30*time.Second, "deadline for the whole command")

	root.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations",
			Args:  cobra.NoArgs,
			RunE:  c.runMigrate,
		},
		&cobra.Command{
			Use:   "check",
			Short: "Check connectivity to the database, Redis, Meilisearch and the model API",
			Args:  cobra.NoArgs,
			RunE:  c.runCheck,
		},
		&cobra.Command{
			Use:   "reindex",
			Short: "Rebuild the Meilisearch indexes from PostgreSQL",
			Args:  cobra.NoArgs,
			RunE:  c.runReindex,
		},
		&cobra.Command{
			Use:   "next-key [prefix]",
			Short: "Print the project key the next new project would receive",
			Args:  cobra.MaximumNArgs(1),
			RunE:  c.runNextKey,
		},
	)
	return root
}

func (c *cli) withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

func (c *cli) openDB(ctx context.Context) (*sql.DB, error) {
	db, err := store.Open(ctx, c.cfg.DatabaseURL, store.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func (c *cli) runMigrate(cmd *cobra.Command, _ []string) error {
	ctx, cancel := c.withTimeout(cmd)
	defer cancel()
	db, err := c.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	applied, err := store.ApplyMigrations(ctx, db, c.cfg.MigrationsDir, c.logger)
	return printMigrations(c.out, applied, err)
}

// printMigrations lists what was applied, including the migrations that
// succeeded before a failure.
func printMigrations(out io.Writer, applied []string, err error) error {
	for _, name := range applied {
		fmt.Fprintf(out, "applied %s\n", name)
	}
	switch {
	case err != nil:
		return fmt.Errorf("migrate after %d migration(s): %w", len(applied), err)
	case len(applied) == 0:
		fmt.Fprintln(out, "schema is up to date")
	default:
		fmt.Fprintf(out, "%d migration(s) applied\n", len(applied))
	}
	return nil
}

type checkResult struct {
	name   string
	status string
	err    error
}

// runCheck probes every configured backend and fails when any probe fails.
// Unconfigured backends are reported as skipped.
func (c *cli) runCheck(cmd *cobra.Command, _ []string) error {
	ctx, cancel := c.withTimeout(cmd)
	defer cancel()

	var results []checkResult

	db, err := c.openDB(ctx)
	if err != nil {
		results = append(results, checkResult{name: "postgres", err: err})
	} else {
		defer db.Close()
		results = append(results, checkResult{name: "postgres", err: db.PingContext(ctx)})
	}

	if strings.TrimSpace(c.cfg.RedisURL) == "" {
		results = append(results, checkResult{name: "redis", status: "skipped"})
	} else if redisStore, err := session.NewRedisStore(c.cfg.RedisURL); err != nil {
		results = append(results, checkResult{name: "redis", err: err})
	} else {
		results = append(results, checkResult{name: "redis", err: redisStore.Ping(ctx)})
		_ = redisStore.Close()
	}

	if strings.TrimSpace(c.cfg.MeiliURL) == "" {
		results = append(results, checkResult{name: "meilisearch", status: "skipped"})
	} else {
		meili := search.NewMeili(c.cfg.MeiliURL, c.cfg.MeiliMasterKey, c.logger)
		if meili.Healthy() {
			results = append(results, checkResult{name: "meilisearch"})
		} else {
			results = append(results, checkResult{name: "meilisearch", err: search.ErrUnavailable})
		}
		meili.Close()
	}

	client := ai.New(c.aiOptions(), c.logger, nil)
	if client == nil {
		results = append(results, checkResult{name: "ai", status: "skipped"})
	} else {
		results = append(results, checkResult{name: "ai", err: client.Ping(ctx)})
	}

	return printChecks(c.out, results)
}

func printChecks(out io.Writer, results []checkResult) error {
	failed := 0
	for _, r := range results {
		switch {
		case r.err != nil:
			failed++
			fmt.Fprintf(out, "%-12s FAIL  %v\n", r.name, r.err)
		case r.status != "":
			fmt.Fprintf(out, "%-12s %s\n", r.name, strings.ToUpper(r.status))
		default:
			fmt.Fprintf(out, "%-12s OK\n", r.name)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func (c *cli) aiOptions() ai.Options {
	return ai.Options{
		APIKey:            c.cfg.AIAPIKey,
		BaseURL:           c.cfg.AIBaseURL,
		Model:             c.cfg.AIModel,
		Timeout:           c.cfg.AITimeout,
		RequestsPerMinute: c.cfg.AIRequestsPerMinute,
		MaxRetries:        c.cfg.AIMaxRetries,
		MaxTasks:          c.cfg.AIMaxTasks,
	}
}

func (c *cli) runReindex(cmd *cobra.Command, _ []string) error {
	if strings.TrimSpace(c.cfg.MeiliURL) == "" {
		return fmt.Errorf("meili_url is not configured")
	}
	ctx, cancel := c.withTimeout(cmd)
	defer cancel()
	db, err := c.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := search.NewService(search.NewMeili(c.cfg.MeiliURL, c.cfg.MeiliMasterKey, c.logger), search.NewPgFTS(db), c.logger)
	defer svc.Close()
	count, err := svc.ReindexAllFromPG(ctx)
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	fmt.Fprintf(c.out, "indexed %d documents\n", count)
	return nil
}

func (c *cli) runNextKey(cmd *cobra.Command, args []string) error {
	prefix := c.cfg.ProjectKeyPrefix
	if len(args) == 1 {
		prefix = args[0]
	}
	ctx, cancel := c.withTimeout(cmd)
	defer cancel()
	db, err := c.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return printNextKey(ctx, c.out, store.NewPostgresStore(db), prefix)
}

func printNextKey(ctx context.Context, out io.Writer, lister projectkey.Lister, prefix string) error {
	key, err := projectkey.Next(ctx, lister, prefix)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, key)
	return nil
}
