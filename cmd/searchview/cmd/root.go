// Package cmd provides the CLI commands for searchview.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchview/internal/config"
	sverrors "github.com/Aman-CERP/searchview/internal/errors"
	"github.com/Aman-CERP/searchview/internal/logging"
	"github.com/Aman-CERP/searchview/internal/profiling"
	"github.com/Aman-CERP/searchview/pkg/version"
)

// app is the state shared by every command of one invocation.
type app struct {
	configPath string
	debug      bool
	profile    profiling.Options

	cfg     *config.Config
	logger  *slog.Logger
	cleanup func()
	session *profiling.Session
}

// NewRootCmd creates the root command for the searchview CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "searchview",
		Short: "Segmented search views with transactional snapshots",
		Long: `searchview manages search views: each view indexes documents from a
set of collections into a persisted segment store fed by an in-memory
double buffer, and serves transaction-consistent snapshots of all three.

Views live in subdirectories of the data directory (paths.data_dir).`,
		Version:           version.Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.start,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.stop()
		},
	}
	cmd.SetVersionTemplate("searchview version {{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Config file (layered over ~/.config/searchview/config.yaml)")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging to ~/.searchview/logs/")
	flags.StringVar(&a.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	flags.StringVar(&a.profile.Heap, "profile-mem", "", "Write memory profile to file")
	flags.StringVar(&a.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newViewsCmd(a))
	cmd.AddCommand(newIngestCmd(a))
	cmd.AddCommand(newRemoveCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newStatsCmd(a))
	cmd.AddCommand(newCollectionsCmd(a))
	cmd.AddCommand(newCompactCmd(a))
	cmd.AddCommand(newDoctorCmd(a))
	cmd.AddCommand(newLogsCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// start loads configuration, installs the logger and starts profiling.
func (a *app) start(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	lc := cfg.LoggingConfig()
	switch {
	case a.debug:
		lc = logging.DebugConfig()
	case cmd.Name() != "serve" && lc.FilePath == "":
		// One-shot commands keep stderr for real problems.
		if l := strings.ToLower(lc.Level); l == "debug" || l == "info" {
			lc.Level = "warn"
		}
	}
	logger, cleanup, err := logging.Setup(lc)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.logger, a.cleanup = logger, cleanup
	slog.SetDefault(logger)
	if a.debug {
		logger.Info("debug_logging_enabled",
			slog.String("log_file", lc.FilePath),
			slog.String("version", version.Short()))
	}

	if a.profile.Enabled() {
		s, err := profiling.Start(a.profile)
		if err != nil {
			return err
		}
		a.session = s
	}
	return nil
}

// stop flushes profiles and closes the log file.
func (a *app) stop() error {
	var err error
	if a.session != nil {
		err = a.session.Stop()
		a.session = nil
	}
	if a.cleanup != nil {
		a.cleanup()
		a.cleanup = nil
	}
	return err
}

// Execute runs the root command.
func Execute() error {
	root := NewRootCmd()
	root.SilenceErrors = true
	err := root.Execute()
	if err != nil {
		_, _ = fmt.Fprint(root.ErrOrStderr(), sverrors.FormatForCLI(err))
	}
	return err
}
