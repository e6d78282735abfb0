package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/health-engine/internal/reference"
	"github.com/sells-group/health-engine/internal/scorer"
)

var (
	scoreTenant string
	scoreKPI    string
	scoreValue  string
	scoreJSON   bool
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Classify one KPI value against its reference range",
	Long:  "Scores a single value using the configured reference data; nothing is read from or written to the store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("score"); err != nil {
			return err
		}

		refs, err := reference.Load(cfg.Scoring.ReferenceFile)
		if err != nil {
			return eris.Wrap(err, "score: load reference data")
		}

		c := refs.Engine(composeOptions(cfg)).ScoreValue(scoreTenant, scoreKPI, scoreValue)
		if scoreJSON {
			return writeJSON(os.Stdout, c)
		}
		return writeClassification(os.Stdout, scoreKPI, scoreValue, c)
	},
}

func writeClassification(w io.Writer, kpi, raw string, c scorer.Classification) error {
	rng := c.DisplayRange
	if rng == "" {
		rng = "-"
	}
	_, err := fmt.Fprintf(w, "%s = %q\n  status %s  score %.2f  color %s  range %s\n",
		kpi, raw, c.Status, c.Score, c.Color, rng)
	return eris.Wrap(err, "score: write classification")
}

func init() {
	scoreCmd.Flags().StringVar(&scoreTenant, "tenant", "", "tenant id (reserved; overrides need the store)")
	scoreCmd.Flags().StringVar(&scoreKPI, "kpi", "", "KPI name")
	scoreCmd.Flags().StringVar(&scoreValue, "value", "", "raw KPI value, e.g. \"3 hours\" or \"85%\"")
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "print the classification as JSON")
	_ = scoreCmd.MarkFlagRequired("kpi")
	rootCmd.AddCommand(scoreCmd)
}
