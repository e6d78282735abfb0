package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/health-engine/internal/reference"
)

var rangesFile string

var rangesCmd = &cobra.Command{
	Use:   "ranges",
	Short: "Inspect reference range documents",
}

var rangesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a reference range YAML file (default: embedded defaults)",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := rangesFile
		if path == "" {
			path = cfg.Scoring.ReferenceFile
		}
		return validateRanges(os.Stdout, path)
	},
}

func validateRanges(w io.Writer, path string) error {
	var (
		doc *reference.Document
		err error
	)
	source := path
	if path == "" {
		source = "embedded defaults"
		doc, err = reference.Defaults()
	} else {
		doc, err = reference.LoadFile(path)
	}
	if err != nil {
		return err
	}
	if err := reference.ValidateDocument(doc); err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "%s: %d reference ranges, %d category weights OK\n",
		source, len(doc.ReferenceRanges), len(doc.CategoryWeights))
	return err
}

func init() {
	rangesValidateCmd.Flags().StringVar(&rangesFile, "file", "", "reference YAML file")
	rangesCmd.AddCommand(rangesValidateCmd)
	rootCmd.AddCommand(rangesCmd)
}
