package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchview/internal/output"
	"github.com/Aman-CERP/searchview/internal/view"
)

func newCompactCmd(a *app) *cobra.Command {
	var maxDuration time.Duration
	cmd := &cobra.Command{
		Use:   "compact [view...]",
		Short: "Flush memory buffers and consolidate persisted segments",
		Long: `Commits the memory buffers into the persisted store, then consolidates
it with the view's policy and releases unreferenced data. A view that
runs past --max-duration is left committed but unconsolidated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				var err error
				if names, err = a.listViews(); err != nil {
					return err
				}
			}
			out := output.New(cmd.OutOrStdout())
			for _, name := range names {
				err := a.withView(cmd.Context(), name, false, func(v *view.View) error {
					before, err := v.Stats()
					if err != nil {
						return err
					}
					start := time.Now()
					done, err := v.Sync(cmd.Context(), maxDuration)
					if err != nil {
						return err
					}
					after, err := v.Stats()
					if err != nil {
						return err
					}
					if !done {
						out.Warningf("%s: time limit reached after commit", v.Name())
						return nil
					}
					out.Successf("%s: %s -> %s in %s", v.Name(),
						plural(before.PersistedSegments, "segment"),
						plural(after.PersistedSegments, "segment"),
						time.Since(start).Round(time.Millisecond))
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "Stop before consolidation once exceeded (0 for no limit)")
	return cmd
}
