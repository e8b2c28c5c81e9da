package cmd

import (
	"fmt"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchview/internal/logging"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	noColor bool
	file    string
}

func newLogsCmd(a *app) *cobra.Command {
	var opts logsOptions
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show or follow the searchview log",
		Long: `Shows the last lines of the log file (logging.file, or the debug log
under ~/.searchview/logs). Use -f to follow new entries.

Examples:
  searchview logs -n 100
  searchview logs -f --level warn
  searchview logs --filter view_committed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runLogs(cmd, opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only entries matching this regex")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.file, "file", "", "Log file path")
	return cmd
}

func (a *app) runLogs(cmd *cobra.Command, opts logsOptions) error {
	explicit := opts.file
	if explicit == "" {
		explicit = a.cfg.Logging.File
	}
	path, err := logging.FindLogFile(explicit)
	if err != nil {
		return err
	}

	vc := logging.ViewerConfig{Level: opts.level, NoColor: opts.noColor}
	if opts.filter != "" {
		re, err := regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
		vc.Pattern = re
	}
	viewer := logging.NewViewer(vc, cmd.OutOrStdout())

	entries, err := viewer.Tail(path, opts.lines)
	if err != nil {
		return err
	}
	viewer.Print(entries)
	if !opts.follow {
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch := make(chan logging.LogEntry, 64)
	errCh := make(chan error, 1)
	go func() {
		errCh <- viewer.Follow(ctx, path, ch)
		close(ch)
	}()
	for e := range ch {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), viewer.FormatEntry(e))
	}
	if err := <-errCh; err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

