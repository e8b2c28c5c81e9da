package cmd

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchview/internal/preflight"
)

var errDoctorFailed = errors.New("system check failed")

// DoctorOutput is the JSON output of the doctor command.
type DoctorOutput struct {
	Status   string                  `json:"status"`
	DataDir  string                  `json:"data_dir"`
	Checks   []preflight.CheckResult `json:"checks"`
	Warnings []string                `json:"warnings,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
}

func newDoctorCmd(a *app) *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the data directory and every view in it",
		Long: `Run diagnostics on the data directory before serving it.

Checks:
  - Write permissions (creates the data directory if missing)
  - Disk space (100MB minimum)
  - File descriptor limit (1024 minimum, warning only)
  - Each view: properties load and validate, store file matches the
    configured backend, lock is free

A view locked by another process is a warning: it is being served.`,
		Example: `  # Run diagnostics
  searchview doctor

  # JSON output for scripting
  searchview doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDoctor(cmd, verbose, jsonOutput)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func (a *app) runDoctor(cmd *cobra.Command, verbose, jsonOutput bool) error {
	checker := preflight.New(
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
	)
	results := checker.RunAll(cmd.Context(), a.cfg.Paths.DataDir)

	if jsonOutput {
		out := DoctorOutput{
			Status:  checker.SummaryStatus(results),
			DataDir: a.cfg.Paths.DataDir,
			Checks:  results,
		}
		for _, r := range results {
			if r.IsCritical() {
				out.Errors = append(out.Errors, r.Name+": "+r.Message)
			} else if r.Status != preflight.StatusPass {
				out.Warnings = append(out.Warnings, r.Name+": "+r.Message)
			}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		checker.PrintResults(results)
	}

	if checker.HasCriticalFailures(results) {
		return errDoctorFailed
	}
	return nil
}
