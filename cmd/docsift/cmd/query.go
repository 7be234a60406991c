package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/docsift/docsift/internal/engine"
	"github.com/docsift/docsift/internal/rank"
)

// queryOutput is the one-shot CLI result: the find summary plus the top
// candidates pulled from the trace.
type queryOutput struct {
	Result     *engine.FindResult `json:"result"`
	Candidates []any              `json:"candidates"`
}

// newQueryCmd creates the query command: a one-shot find from the
// command line.
func newQueryCmd() *cobra.Command {
	var (
		corpusID      string
		expandScope   bool
		requiredTerms []string
		timeMS        int
		maxCandidates int
		noCache       bool
	)

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer one question and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng := buildEngine(cfg)

			req := engine.FindRequest{
				Query:         args[0],
				CorpusID:      corpusID,
				ExpandScope:   expandScope,
				RequiredTerms: requiredTerms,
			}
			// Nonzero values pass through as given so validation sees
			// out-of-range ones; only absent flags take defaults.
			if timeMS != 0 || maxCandidates != 0 {
				b := engine.DefaultBudget
				if timeMS != 0 {
					b.TimeMS = timeMS
				}
				if maxCandidates != 0 {
					b.MaxCandidates = maxCandidates
				}
				req.Budget = &b
			}
			if noCache {
				useCache := false
				req.UseCache = &useCache
			}

			res, err := eng.Find(cmd.Context(), req)
			if err != nil {
				return err
			}

			page, err := eng.Fetch(res.TraceID, engine.KindCandidates, 0, resolveLimit(req.Budget))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(queryOutput{Result: res, Candidates: page.Items})
		},
	}

	cmd.Flags().StringVarP(&corpusID, "corpus", "m", "", "Corpus id to search (required)")
	cmd.Flags().BoolVar(&expandScope, "expand", false, "Allow searching neighbor corpora when triggers fire")
	cmd.Flags().StringSliceVar(&requiredTerms, "require", nil, "Terms every candidate must contain (repeatable)")
	cmd.Flags().IntVar(&timeMS, "time-ms", 0, "Scan time budget in milliseconds")
	cmd.Flags().IntVar(&maxCandidates, "max-candidates", 0, "Maximum candidates to return")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the result cache")
	_ = cmd.MarkFlagRequired("corpus")

	return cmd
}

func resolveLimit(b *rank.Budget) int {
	if b != nil && b.MaxCandidates > 0 {
		return b.MaxCandidates
	}
	return engine.DefaultBudget.MaxCandidates
}

// newCorporaCmd creates the corpora command: list available corpora.
func newCorporaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "corpora",
		Short: "List the available corpora",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			eng := buildEngine(cfg)
			corpora, err := eng.Corpora()
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(corpora)
		},
	}
}
