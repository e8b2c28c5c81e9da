package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/searchview/internal/analysis"
	"github.com/Aman-CERP/searchview/internal/output"
	"github.com/Aman-CERP/searchview/internal/segment"
	"github.com/Aman-CERP/searchview/internal/txn"
	"github.com/Aman-CERP/searchview/internal/view"
)

type searchOptions struct {
	field    string
	analyzer string
	limit    int
	json     bool
}

// SearchHit is one matched document in JSON output.
type SearchHit struct {
	Key    segment.Key       `json:"key"`
	Fields map[string]string `json:"fields"`
}

// SearchOutput is the JSON output of the search command.
type SearchOutput struct {
	View    string      `json:"view"`
	Field   string      `json:"field"`
	Terms   []string    `json:"terms"`
	Total   int         `json:"total"`
	Visible int         `json:"visible"`
	Hits    []SearchHit `json:"hits"`
}

func newSearchCmd(a *app) *cobra.Command {
	var opts searchOptions
	cmd := &cobra.Command{
		Use:   "search <view> <text>",
		Short: "Match documents in a transaction snapshot",
		Long: `Analyzes the text with the given analyzer and lists the documents whose
field carries any of the resulting terms. The search reads one snapshot
covering the persisted store and both memory buffers.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSearch(cmd, args[0], strings.Join(args[1:], " "), opts)
		},
	}
	cmd.Flags().StringVar(&opts.field, "field", "", "Field to match (required)")
	cmd.Flags().StringVar(&opts.analyzer, "analyzer", analysis.DefaultAnalyzer, "Analyzer applied to the query text")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "Maximum hits to print (0 for all)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func (a *app) runSearch(cmd *cobra.Command, name, text string, opts searchOptions) error {
	return a.withView(cmd.Context(), name, false, func(v *view.View) error {
		terms, err := v.Mapper().Terms(opts.analyzer, text)
		if err != nil {
			return err
		}

		tx := txn.NewManager(txn.WithLogger(a.logger)).Begin()
		defer func() { _ = tx.Abort() }()

		snap, err := v.Snapshot(tx, true)
		if err != nil {
			return err
		}
		keys := snap.Match(opts.field, terms...)

		result := SearchOutput{
			View:    v.Name(),
			Field:   opts.field,
			Terms:   terms,
			Total:   len(keys),
			Visible: snap.DocCount(),
			Hits:    []SearchHit{},
		}
		if opts.limit > 0 && len(keys) > opts.limit {
			keys = keys[:opts.limit]
		}
		for _, k := range keys {
			hit := SearchHit{Key: k, Fields: map[string]string{}}
			if doc, ok := snap.Document(k); ok {
				for _, f := range doc.Fields {
					hit.Fields[f.Name] = f.Value
				}
			}
			result.Hits = append(result.Hits, hit)
		}

		if opts.json {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		out := output.New(cmd.OutOrStdout())
		if result.Total == 0 {
			out.Statusf("", "No matches for %s in %s.%s", formatTerms(terms), v.Name(), opts.field)
			return nil
		}
		rows := make([][]string, 0, len(result.Hits))
		for _, h := range result.Hits {
			rows = append(rows, []string{h.Key.String(), h.Fields[opts.field]})
		}
		out.Table([]string{"KEY", strings.ToUpper(opts.field)}, rows)
		out.Newline()
		out.Statusf("", "%d of %d visible documents match", result.Total, result.Visible)
		if len(result.Hits) < result.Total {
			out.Statusf("", "showing first %d (use --limit 0 for all)", len(result.Hits))
		}
		return nil
	})
}

// formatTerms renders terms for display.
func formatTerms(terms []string) string {
	return fmt.Sprintf("[%s]", strings.Join(terms, " "))
}
