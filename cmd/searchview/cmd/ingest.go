package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/searchview/internal/analysis"
	sverrors "github.com/Aman-CERP/searchview/internal/errors"
	"github.com/Aman-CERP/searchview/internal/output"
	"github.com/Aman-CERP/searchview/internal/txn"
	"github.com/Aman-CERP/searchview/internal/view"
)

// KeyField carries the document id in ingested JSON lines.
const KeyField = "_key"

type ingestOptions struct {
	collection uint64
	file       string
	link       string
	batch      int
	create     bool
}

func newIngestCmd(a *app) *cobra.Command {
	var opts ingestOptions
	var collection string

	cmd := &cobra.Command{
		Use:   "ingest <view> --collection <cid>",
		Short: "Insert JSON lines into a view",
		Long: `Reads one JSON object per line and inserts it into the view under the
given collection. Each object carries its document id in "_key"; the
remaining attributes are indexed according to the link definition
(--link, a YAML file), or with the keyword analyzer on every attribute.

Every batch is one transaction. The view is committed once all lines are
read, so the documents are visible to the next snapshot.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cid, err := parseUint(collection, "collection")
			if err != nil {
				return err
			}
			opts.collection = cid
			return a.runIngest(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection id (required)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "-", "Input file, - for stdin")
	cmd.Flags().StringVar(&opts.link, "link", "", "YAML link definition (analyzer, fields, include_all_fields)")
	cmd.Flags().IntVar(&opts.batch, "batch", 500, "Documents per transaction")
	cmd.Flags().BoolVar(&opts.create, "create", false, "Create the view if it does not exist")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func loadLinkMeta(path string) (analysis.LinkMeta, error) {
	if path == "" {
		return analysis.DefaultLinkMeta(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return analysis.LinkMeta{}, fmt.Errorf("failed to read link definition: %w", err)
	}
	var meta analysis.LinkMeta
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return analysis.LinkMeta{}, fmt.Errorf("failed to parse link definition %s: %w", path, err)
	}
	return meta, nil
}

// parseLine decodes one JSON line into an entry.
func parseLine(line []byte) (view.BatchEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return view.BatchEntry{}, err
	}
	raw, ok := body[KeyField]
	if !ok {
		return view.BatchEntry{}, fmt.Errorf("missing %q", KeyField)
	}
	delete(body, KeyField)

	var id uint64
	switch k := raw.(type) {
	case json.Number:
		n, err := parseUint(k.String(), KeyField)
		if err != nil {
			return view.BatchEntry{}, err
		}
		id = n
	case string:
		n, err := parseUint(k, KeyField)
		if err != nil {
			return view.BatchEntry{}, err
		}
		id = n
	default:
		return view.BatchEntry{}, fmt.Errorf("%q must be a number, got %T", KeyField, raw)
	}
	return view.BatchEntry{DocumentID: id, Body: body}, nil
}

func (a *app) runIngest(cmd *cobra.Command, name string, opts ingestOptions) error {
	if opts.batch < 1 {
		return fmt.Errorf("--batch must be at least 1, got %d", opts.batch)
	}
	meta, err := loadLinkMeta(opts.link)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if opts.file != "-" {
		f, err := os.Open(opts.file)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	out := output.New(cmd.OutOrStdout())
	start := time.Now()
	return a.withView(cmd.Context(), name, opts.create, func(v *view.View) error {
		if _, err := v.Emplace(opts.collection); err != nil {
			return err
		}

		manager := txn.NewManager(txn.WithLogger(a.logger))
		var (
			batch    []view.BatchEntry
			lineNo   int
			inserted int
		)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			tx := manager.Begin()
			if err := v.InsertBatch(tx, opts.collection, batch, meta); err != nil {
				_ = tx.Abort()
				var be *sverrors.BatchError
				if errors.As(err, &be) {
					return fmt.Errorf("line %d: %w", lineNo-len(batch)+be.Index+1, be.Cause)
				}
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			inserted += len(batch)
			batch = batch[:0]
			return nil
		}

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			lineNo++
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				// keeps line numbers in batch errors aligned
				if err := flush(); err != nil {
					return err
				}
				continue
			}
			entry, err := parseLine(line)
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			batch = append(batch, entry)
			if len(batch) >= opts.batch {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if err := flush(); err != nil {
			return err
		}
		if err := v.Commit(); err != nil {
			return err
		}

		a.logger.Info("ingest_complete",
			slog.String("view", v.Name()),
			slog.Uint64("collection", opts.collection),
			slog.Int("documents", inserted),
			slog.Duration("elapsed", time.Since(start)))
		out.Successf("Inserted %d documents into %s (collection %d) in %s",
			inserted, v.Name(), opts.collection, time.Since(start).Round(time.Millisecond))
		return nil
	})
}

func newRemoveCmd(a *app) *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "remove <view> --collection <cid> <did>...",
		Short: "Remove documents from a view",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cid, err := parseUint(collection, "collection")
			if err != nil {
				return err
			}
			ids := make([]uint64, 0, len(args)-1)
			for _, arg := range args[1:] {
				did, err := parseUint(arg, "document id")
				if err != nil {
					return err
				}
				ids = append(ids, did)
			}
			return a.withView(cmd.Context(), args[0], false, func(v *view.View) error {
				tx := txn.NewManager(txn.WithLogger(a.logger)).Begin()
				for _, did := range ids {
					if err := v.Remove(tx, cid, did); err != nil {
						_ = tx.Abort()
						return err
					}
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				if err := v.Commit(); err != nil {
					return err
				}
				output.New(cmd.OutOrStdout()).Successf("Removed %d documents from %s", len(ids), v.Name())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection id (required)")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}
