package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/health-engine/internal/model"
	"github.com/sells-group/health-engine/internal/trend"
)

var (
	rollupTenant  string
	rollupAccount string
	rollupMonth   int
	rollupYear    int
	rollupJSON    bool
)

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Recompute and store monthly health scores",
}

var rollupAccountCmd = &cobra.Command{
	Use:   "account",
	Short: "Roll up a single account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		period, err := periodFromFlags(rollupMonth, rollupYear)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, "rollup")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Service.RollupAccount(ctx, rollupTenant, rollupAccount, period)
		if err != nil {
			return eris.Wrap(err, "rollup account")
		}

		if rollupJSON {
			return writeJSON(os.Stdout, res)
		}
		return writeRollupResult(os.Stdout, res)
	},
}

var rollupCustomerCmd = &cobra.Command{
	Use:   "customer",
	Short: "Roll up every account of a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		period, err := periodFromFlags(rollupMonth, rollupYear)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, "rollup")
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := env.Service.RollupCustomer(ctx, rollupTenant, period)
		if err != nil {
			return eris.Wrap(err, "rollup customer")
		}

		zap.L().Info("customer rollup complete",
			zap.String("tenant_id", summary.TenantID),
			zap.Int("accounts", summary.Accounts),
			zap.Int64("processed", summary.Processed),
			zap.Int64("failed", summary.Failed),
		)

		if rollupJSON {
			return writeJSON(os.Stdout, summary)
		}
		return writeRollupSummary(os.Stdout, summary)
	},
}

// periodFromFlags returns nil (current month) when neither flag is set.
func periodFromFlags(month, year int) (*model.Period, error) {
	if month == 0 && year == 0 {
		return nil, nil
	}
	if month == 0 || year == 0 {
		return nil, eris.New("--month and --year must be given together")
	}
	p := model.Period{Month: month, Year: year}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode JSON")
}

func writeRollupResult(w io.Writer, res *trend.RollupResult) error {
	s := res.Score
	if _, err := fmt.Fprintf(w, "Account %s  %04d-%02d  overall %.2f (%s)  KPIs %d/%d\n",
		res.AccountID, res.Period.Year, res.Period.Month,
		s.Overall.Score, s.Overall.Status, s.ValidKPIs, s.TotalKPIs); err != nil {
		return eris.Wrap(err, "write rollup result")
	}
	for _, c := range s.Categories {
		if _, err := fmt.Fprintf(w, "  %-22s %6.2f  %-7s weight %.2f  KPIs %d/%d\n",
			c.Category, c.Score, c.Status, c.Weight, c.ValidKPICount, c.KPICount); err != nil {
			return eris.Wrap(err, "write rollup result")
		}
	}
	for _, a := range res.Alerts {
		if _, err := fmt.Fprintf(w, "  alert %s: %s\n", a.Type, a.Message); err != nil {
			return eris.Wrap(err, "write rollup result")
		}
	}
	return nil
}

func writeRollupSummary(w io.Writer, s trend.RollupSummary) error {
	_, err := fmt.Fprintf(w, "Tenant %s  %04d-%02d  accounts %d  processed %d  failed %d\n",
		s.TenantID, s.Period.Year, s.Period.Month, s.Accounts, s.Processed, s.Failed)
	if err != nil {
		return eris.Wrap(err, "write rollup summary")
	}
	for _, id := range s.FailedAccounts {
		if _, err := fmt.Fprintf(w, "  failed: %s\n", id); err != nil {
			return eris.Wrap(err, "write rollup summary")
		}
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{rollupAccountCmd, rollupCustomerCmd} {
		c.Flags().StringVar(&rollupTenant, "tenant", "", "tenant id")
		c.Flags().IntVar(&rollupMonth, "month", 0, "period month 1-12 (default current)")
		c.Flags().IntVar(&rollupYear, "year", 0, "period year (default current)")
		c.Flags().BoolVar(&rollupJSON, "json", false, "print the result as JSON")
		rollupCmd.AddCommand(c)
	}
	rollupAccountCmd.Flags().StringVar(&rollupAccount, "account", "", "account id")
	_ = rollupAccountCmd.MarkFlagRequired("account")
	_ = rollupCustomerCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(rollupCmd)
}
