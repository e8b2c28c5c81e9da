package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchview/internal/output"
	"github.com/Aman-CERP/searchview/internal/view"
)

func newCollectionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collections <view>",
		Short: "List, add or drop the collections a view tracks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withView(cmd.Context(), args[0], false, func(v *view.View) error {
				var ids []string
				v.VisitCollections(func(cid uint64) bool {
					ids = append(ids, strconv.FormatUint(cid, 10))
					return true
				})
				out := output.New(cmd.OutOrStdout())
				if len(ids) == 0 {
					out.Statusf("", "%s tracks no collections", v.Name())
					return nil
				}
				for _, id := range ids {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <view> <cid>",
		Short: "Track a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cid, err := parseUint(args[1], "collection")
			if err != nil {
				return err
			}
			return a.withView(cmd.Context(), args[0], false, func(v *view.View) error {
				added, err := v.Emplace(cid)
				if err != nil {
					return err
				}
				out := output.New(cmd.OutOrStdout())
				if !added {
					out.Statusf("", "%s already tracks collection %d", v.Name(), cid)
					return nil
				}
				out.Successf("%s now tracks collection %d", v.Name(), cid)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "drop <view> <cid>",
		Short: "Stop tracking a collection and remove its documents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cid, err := parseUint(args[1], "collection")
			if err != nil {
				return err
			}
			return a.withView(cmd.Context(), args[0], false, func(v *view.View) error {
				if err := v.Drop(cid); err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Dropped collection %d from %s", cid, v.Name())
				return nil
			})
		},
	})
	return cmd
}
