package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/health-engine/internal/export"
	"github.com/sells-group/health-engine/internal/model"
)

var (
	trendsAccount string
	trendsLimit   int
	trendsFormat  string
	trendsOutput  string
)

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "List or export an account's monthly health scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "trends")
		if err != nil {
			return err
		}
		defer env.Close()

		rows, err := env.Service.Trends(ctx, trendsAccount, trendsLimit)
		if err != nil {
			return eris.Wrap(err, "trends: list")
		}

		zap.L().Debug("trends loaded", zap.String("account_id", trendsAccount), zap.Int("rows", len(rows)))
		return outputTrends(rows, trendsFormat, trendsOutput)
	},
}

func outputTrends(rows []model.HealthTrend, format, outputPath string) error {
	var w io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "trends: create output file %s", outputPath)
		}
		defer f.Close() //nolint:errcheck
		w = f
	} else if format == export.FormatXLSX {
		return eris.New("trends: --output is required for xlsx")
	}

	return export.Write(w, format, rows)
}

func init() {
	trendsCmd.Flags().StringVar(&trendsAccount, "account", "", "account id")
	trendsCmd.Flags().IntVar(&trendsLimit, "limit", 0, "max rows, newest first (default 24)")
	trendsCmd.Flags().StringVar(&trendsFormat, "format", export.FormatTable, "output format: table, csv or xlsx")
	trendsCmd.Flags().StringVar(&trendsOutput, "output", "", "output file path (default stdout)")
	_ = trendsCmd.MarkFlagRequired("account")
	rootCmd.AddCommand(trendsCmd)
}
