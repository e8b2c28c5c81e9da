package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchview/internal/output"
	"github.com/Aman-CERP/searchview/internal/syncworker"
	"github.com/Aman-CERP/searchview/internal/view"
)

var errViewNotFound = errors.New("view not found")

// viewDir resolves a view name inside the data directory.
func (a *app) viewDir(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid view name %q", name)
	}
	return filepath.Join(a.cfg.Paths.DataDir, name), nil
}

// listViews returns the names of the views in the data directory, sorted.
func (a *app) listViews() ([]string, error) {
	entries, err := os.ReadDir(a.cfg.Paths.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list data directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(a.cfg.Paths.DataDir, e.Name(), view.PropertiesFileName)); err == nil {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// openView opens a view. Without create, a view that has no view.yaml yet
// is reported as errViewNotFound. worker may be nil for a view-owned one.
func (a *app) openView(ctx context.Context, name string, create bool, worker *syncworker.Worker) (*view.View, error) {
	dir, err := a.viewDir(name)
	if err != nil {
		return nil, err
	}
	if !create {
		if _, err := os.Stat(filepath.Join(dir, view.PropertiesFileName)); err != nil {
			return nil, fmt.Errorf("%w: %s (expected %s)", errViewNotFound, name, dir)
		}
	}

	props := a.cfg.ViewProperties()
	props.Name = name
	v, err := view.New(view.Options{
		DataDir:    dir,
		Properties: props,
		Worker:     worker,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := v.Open(ctx); err != nil {
		return nil, err
	}
	return v, nil
}

// withView runs fn against an opened view and closes it afterwards.
func (a *app) withView(ctx context.Context, name string, create bool, fn func(*view.View) error) (err error) {
	v, err := a.openView(ctx, name, create, nil)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := v.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(v)
}

func parseUint(arg, what string) (uint64, error) {
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be an unsigned integer", what, arg)
	}
	return n, nil
}

func newViewsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "views",
		Short: "List, create or delete views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runViewsList(cmd)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a view with the configured defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withView(cmd.Context(), args[0], true, func(v *view.View) error {
				output.New(cmd.OutOrStdout()).Successf("Created view %s at %s", v.Name(), v.DataDir())
				return nil
			})
		},
	})

	var force bool
	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Close a view and remove its directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			if !force {
				out.Warningf("Refusing to delete %s without --force", args[0])
				return nil
			}
			v, err := a.openView(cmd.Context(), args[0], false, nil)
			if err != nil {
				return err
			}
			if err := v.Delete(); err != nil {
				return err
			}
			out.Successf("Deleted view %s", args[0])
			return nil
		},
	}
	del.Flags().BoolVar(&force, "force", false, "Delete without confirmation")
	cmd.AddCommand(del)
	return cmd
}

func (a *app) runViewsList(cmd *cobra.Command) error {
	out := output.New(cmd.OutOrStdout())
	names, err := a.listViews()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		out.Statusf("", "No views in %s", a.cfg.Paths.DataDir)
		return nil
	}
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		props, err := view.LoadProperties(filepath.Join(a.cfg.Paths.DataDir, name))
		if err != nil {
			rows = append(rows, []string{name, "?", "?", err.Error()})
			continue
		}
		rows = append(rows, []string{
			name,
			props.Backend,
			strconv.Itoa(len(props.Collections)),
			props.SyncInterval.String(),
		})
	}
	out.Table([]string{"VIEW", "BACKEND", "COLLECTIONS", "SYNC"}, rows)
	return nil
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
