package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/sql2fs/sql2fs/internal/config"
	"github.com/sql2fs/sql2fs/internal/models"
	"github.com/sql2fs/sql2fs/internal/services/runner"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	assumeYes  bool
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "sql2fs",
	Short: "Export database schema objects to a file tree",
	Long: `sql2fs connects to a database and writes the definition of every table,
view, stored procedure and user-defined function to its own file:

  {directory}/Tables/{schema}.{name}.sql
  {directory}/Views/{schema}.{name}.sql
  {directory}/Stored Procedures/{schema}.{name}.sql
  {directory}/User-Defined Functions/{schema}.{name}.sql

Files of objects that no longer exist are pruned, so the tree can be kept
under version control and diffed between runs.`,
	Example: `  sql2fs -s localhost -d Sales -dir ./schema
  sql2fs -s db01\SQLEXPRESS -d Sales -t sv -ne sp_,xp_
  sql2fs --driver postgres -s pg.internal:5432 -d shop -U reader --password '$PGPASSWORD'
  sql2fs --config sql2fs.yaml`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE:          runExport,
	Args:          noArgs,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()

	// Connection.
	pf.String("driver", models.DriverSQLServer, "database engine: sqlserver, postgres, mysql, oracle")
	pf.StringP("server", "s", "", `server address: host, host,port or host\instance`)
	pf.Int("port", 0, "server port (engine default when 0)")
	pf.StringP("database", "d", "", "database name (service name for oracle)")
	pf.StringP("user", "U", "", "login name (SQL Server uses integrated security when empty)")
	pf.String("password", "", "login password, $VAR references are expanded")
	pf.String("encrypt", "", "connection encryption: true, false, disable, strict")
	pf.Bool("trust-server-certificate", false, "skip server certificate validation")
	pf.Duration("timeout", 30*time.Second, "connection timeout")

	// Output.
	pf.String("directory", "", "export root, current directory when empty (also -dir)")
	pf.StringP("types", "t", "all", "object types to export: all or any of t, v, s, u")
	pf.BoolP("clean", "c", false, "delete everything under the export root first (asks for confirmation)")
	pf.BoolP("prune", "p", true, "delete files of objects that no longer qualify")
	pf.String("encoding", "ansi", "file encoding: ansi (Windows-1252) or utf8")
	pf.String("batch-terminator", "", "line written after every script part, e.g. GO")

	// Filters.
	pf.String("name-include", "", "comma-separated name prefixes to include (also -ni)")
	pf.String("name-exclude", "", "comma-separated name prefixes to exclude (also -ne)")
	pf.String("schema-include", "", "comma-separated schema prefixes to include (also -si)")
	pf.String("schema-exclude", "", "comma-separated schema prefixes to exclude (also -se)")

	// Behaviour.
	pf.BoolP("ignore-encryption", "e", true, "skip encrypted views, procedures and functions")
	pf.Bool("fail-fast", false, "stop at the first object that fails")
	pf.BoolVarP(&assumeYes, "yes", "y", false, "confirm --clean without prompting")
	pf.StringVar(&configFile, "config", "", "YAML config file")

	// Logging.
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	pf.BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	pf.BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", models.ErrConfig, err)
	})

	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig builds the configuration from the config file (if any), the
// environment and the command-line flags, then validates it.
func loadConfig(cmd *cobra.Command) (*models.ExportConfig, error) {
	parser := config.NewParser()
	if err := parser.BindFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	var (
		cfg *models.ExportConfig
		err error
	)
	if configFile != "" {
		cfg, err = parser.LoadFile(configFile)
	} else {
		cfg, err = parser.Load()
	}
	if err != nil {
		return nil, err
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Info().
		Str("driver", cfg.Connection.Driver).
		Str("server", cfg.Connection.Server).
		Str("database", cfg.Connection.Database).
		Str("directory", cfg.Directory).
		Msg("configuration loaded")

	// Confirm clean at the boundary, never inside the export
	if err := resolveClean(cfg, assumeYes); err != nil {
		return err
	}

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Run export
	out := cmd.OutOrStdout()
	runnerSvc := runner.New(log.Logger, out)
	summaries, err := runnerSvc.Run(ctx, *cfg)
	if !quiet {
		printReport(out, summaries)
	}
	if err != nil {
		return err
	}

	log.Info().Msg("export completed successfully")
	return nil
}

// resolveClean sets cfg.CleanConfirmed for --clean, prompting unless yes.
func resolveClean(cfg *models.ExportConfig, yes bool) error {
	if !cfg.Clean {
		return nil
	}
	if yes {
		cfg.CleanConfirmed = true
		return nil
	}

	confirmed, err := confirmClean(cfg.Directory)
	if err != nil {
		return err
	}
	cfg.CleanConfirmed = confirmed
	return nil
}

// Execute runs the root command with args and logs the final error.
func Execute(args []string) error {
	setupLogging()

	rootCmd.SetArgs(normalizeArgs(args))
	err := rootCmd.Execute()
	if err != nil {
		log.Error().Err(err).Msg("sql2fs failed")
	}
	return err
}
