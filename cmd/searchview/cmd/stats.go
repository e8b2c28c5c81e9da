package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchview/internal/output"
	"github.com/Aman-CERP/searchview/internal/profiling"
	"github.com/Aman-CERP/searchview/internal/store"
	"github.com/Aman-CERP/searchview/internal/view"
)

// StatsOutput is the JSON output of the stats command.
type StatsOutput struct {
	view.Stats
	StoreBytes uint64 `json:"store_bytes"`
}

func newStatsCmd(a *app) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats [view...]",
		Short: "Show segment and buffer statistics",
		Long: `Opens each view and reports its persisted store, both memory buffers,
and the pending writer operations. Without arguments every view in the
data directory is reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runStats(cmd, args, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func (a *app) runStats(cmd *cobra.Command, names []string, jsonOutput bool) error {
	if len(names) == 0 {
		var err error
		if names, err = a.listViews(); err != nil {
			return err
		}
	}

	results := make([]StatsOutput, 0, len(names))
	for _, name := range names {
		err := a.withView(cmd.Context(), name, false, func(v *view.View) error {
			s, err := v.Stats()
			if err != nil {
				return err
			}
			var size uint64
			if info, err := os.Stat(store.DirectoryPath(s.Path, s.Backend)); err == nil {
				size = uint64(info.Size())
			}
			results = append(results, StatsOutput{Stats: s, StoreBytes: size})
			return nil
		})
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := output.New(cmd.OutOrStdout())
	if len(results) == 0 {
		out.Statusf("", "No views in %s", a.cfg.Paths.DataDir)
		return nil
	}
	for i, r := range results {
		if i > 0 {
			out.Newline()
		}
		out.Statusf("📊", "%s", r.Name)
		out.KeyValues(
			output.KV{Key: "Store", Value: store.DirectoryPath(r.Path, r.Backend)},
			output.KV{Key: "Backend", Value: r.Backend},
			output.KV{Key: "Size", Value: profiling.FormatBytes(r.StoreBytes)},
			output.KV{Key: "Collections", Value: r.Collections},
			output.KV{Key: "Persisted", Value: plural(r.PersistedDocs, "doc") + " in " + plural(r.PersistedSegments, "segment")},
			output.KV{Key: "Active", Value: plural(r.ActiveSegments, "segment")},
			output.KV{Key: "To flush", Value: plural(r.ToFlushSegments, "segment")},
			output.KV{Key: "Buffered", Value: plural(r.Pending, "pending op") + ", " + plural(r.Retained, "retained op")},
		)
	}
	return nil
}
