// Package cmd implements the sievefold command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/solatis/sievefold/internal/core/config"
	"github.com/solatis/sievefold/internal/core/db"
	"github.com/solatis/sievefold/internal/logging"
	"github.com/solatis/sievefold/internal/rules"
	"github.com/solatis/sievefold/internal/snapshot"
	"github.com/solatis/sievefold/internal/store"
)

const Version = "0.1.0"

// app carries what every command shares: global flags, the loaded config,
// the logger and the I/O endpoints.
type app struct {
	configFile string
	dbURL      string
	logLevel   string
	logFormat  string

	fs     afero.Fs
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sievefold",
		Short: "Consolidate mail filter rules into a Sieve script",
		Long: `sievefold captures mail filter rules, merges redundant ones without changing
which messages they match, and maintains the generated section of a Sieve script.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "config file path")
	pf.StringVar(&a.dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...)")
	pf.StringVar(&a.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&a.logFormat, "log-format", "json", "log format (json, console, text)")

	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(
		newMigrateCmd(a),
		newCaptureCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newVerifyCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newAnalyzeCmd(a),
		newConsolidateCmd(a),
		newMergeCmd(a),
		newDiffCmd(a),
		newSetStatusCmd(a),
		newCleanupCmd(a),
		newManifestsCmd(a),
		newConfirmSyncCmd(a),
		newMatchCmd(a),
	)
	return root
}

// Execute runs the command line until completion or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{fs: afero.NewOsFs(), stdout: os.Stdout, stderr: os.Stderr}
	err := newRootCmd(a).ExecuteContext(ctx)
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return err
}

// setup loads configuration and builds the logger before any subcommand.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	pf := cmd.Root().PersistentFlags()
	cfg, err := config.LoadConfig(a.configFile, map[string]*pflag.Flag{
		config.KeyDatabaseURL: pf.Lookup("db-url"),
		config.KeyLogLevel:    pf.Lookup("log-level"),
		config.KeyLogFormat:   pf.Lookup("log-format"),
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, a.stderr)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	cmd.SetContext(logging.NewContext(cmd.Context(), logger))
	return nil
}

// openDB opens the configured database.
func (a *app) openDB() (*sqlx.DB, error) {
	database, err := db.Open(a.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

// openManager opens the database, checks the schema is current and wires
// store, engine and manager. The returned func closes the database.
func (a *app) openManager(cmd *cobra.Command) (*snapshot.Manager, func(), error) {
	database, err := a.openDB()
	if err != nil {
		return nil, nil, err
	}

	statuses, err := db.MigrateStatus(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			database.Close()
			return nil, nil, fmt.Errorf("migration %s not applied - run 'sievefold migrate' first", s.ID)
		}
	}

	logger := logging.FromContext(cmd.Context())
	s, err := store.New(database, store.WithLogger(logger))
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}

	m, err := snapshot.NewManager(s,
		snapshot.WithLogger(logger),
		snapshot.WithEngine(rules.NewEngine(rules.WithLogger(logger))),
		snapshot.WithGeneratorVersion("sievefold/"+Version),
	)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return m, func() { database.Close() }, nil
}

// refArg returns the capture reference at position i, defaulting to latest.
func refArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
