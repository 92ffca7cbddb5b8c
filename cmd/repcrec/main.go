package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/blr246/adbs-repcrec/internal/assertlog"
	"github.com/blr246/adbs-repcrec/internal/command"
	"github.com/blr246/adbs-repcrec/internal/config"
	"github.com/blr246/adbs-repcrec/internal/coordinator"
	"github.com/blr246/adbs-repcrec/internal/directory"
	"github.com/blr246/adbs-repcrec/internal/invariants"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "repcrec",
		Short: "RepCRec — a replicated, multiversion concurrency-control database simulator",
		Long: `RepCRec runs scripted transaction workloads against a simulated cluster
of storage sites, applying strict two-phase locking with wait-die deadlock
avoidance for read-write transactions and multiversion snapshot isolation
for read-only transactions.`,
	}

	root.PersistentFlags().Int("sites", 0, "number of sites (overrides config file; 0 keeps the file/default value)")
	root.PersistentFlags().Int("variables", 0, "number of variables (overrides config file; 0 keeps the file/default value)")
	root.PersistentFlags().String("data-dir", "", "durable data directory (empty keeps state in memory only)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("config", "", "path to a YAML config file")

	root.AddCommand(runCmd())
	return root
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [script]",
		Short: "Run a command script (or stdin, with --interactive) against a fresh cluster",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interactive, _ := cmd.Flags().GetBool("interactive")

			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			runID := uuid.New().String()
			logger := newLogger(cfg.LogLevel).With().Str("run_id", runID).Logger()

			dir, err := directory.New(cfg.Sites, cfg.Vars, cfg.DataDir)
			if err != nil {
				return err
			}

			var in io.Reader = os.Stdin
			if !interactive {
				if len(args) == 0 {
					return cmd.Usage()
				}
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			src := command.NewSource(in)
			co := coordinator.New(dir, logger, os.Stdout)
			if err := co.Run(src); err != nil {
				return err
			}

			if checkInvariants, _ := cmd.Flags().GetBool("check-invariants"); checkInvariants {
				ok, violations := invariants.NewChecker().CheckAll(co.CommitLog(), co.WaitGraph(), co.LiveTransactions())
				for _, v := range violations {
					logger.Warn().Str("invariant", v.Type).Msg(v.Description)
				}
				if !ok {
					return fmt.Errorf("%d invariant violation(s) detected", len(violations))
				}
			}

			if err := assertlog.Check(src.Assertions(), co); err != nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().Bool("interactive", false, "read the command script from stdin instead of a file argument")
	cmd.Flags().Bool("check-invariants", false, "run the safety-property checker against the finished trace and fail if any property is violated")
	return cmd
}

func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	fileCfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	cfg := config.Merge(config.Default(), fileCfg)

	flagSites, _ := cmd.Flags().GetInt("sites")
	flagVars, _ := cmd.Flags().GetInt("variables")
	flagDataDir, _ := cmd.Flags().GetString("data-dir")
	flagLogLevel, _ := cmd.Flags().GetString("log-level")
	cfg = config.Merge(cfg, config.Config{
		Sites:    flagSites,
		Vars:     flagVars,
		DataDir:  flagDataDir,
		LogLevel: flagLogLevel,
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
