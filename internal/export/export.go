// Package export renders health trend rows for spreadsheets and terminals.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/health-engine/internal/model"
)

// Supported output formats.
const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatXLSX  = "xlsx"
)

// SheetName is the worksheet XLSX exports write to.
const SheetName = "Health Trends"

// Header returns the column names shared by the CSV and XLSX formats.
func Header() []string {
	h := []string{"account_id", "period", "month", "year", "overall_score"}
	for _, c := range model.Categories() {
		h = append(h, c.Key()+"_score")
	}
	return append(h, "total_kpis", "valid_kpis")
}

func record(t model.HealthTrend) []string {
	row := []string{
		t.AccountID,
		fmt.Sprintf("%04d-%02d", t.Year, t.Month),
		strconv.Itoa(t.Month),
		strconv.Itoa(t.Year),
		formatScore(t.OverallScore),
	}
	for _, c := range model.Categories() {
		row = append(row, formatScore(t.CategoryScore(c)))
	}
	return append(row, strconv.Itoa(t.TotalKPIs), strconv.Itoa(t.ValidKPIs))
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Write renders trends in the named format.
func Write(w io.Writer, format string, trends []model.HealthTrend) error {
	switch strings.ToLower(format) {
	case FormatCSV:
		return WriteCSV(w, trends)
	case FormatXLSX:
		return WriteXLSX(w, trends)
	case FormatTable, "":
		return WriteTable(w, trends)
	default:
		return eris.Errorf("export: unsupported format %q", format)
	}
}

// WriteCSV writes a header row then one row per trend.
func WriteCSV(w io.Writer, trends []model.HealthTrend) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header()); err != nil {
		return eris.Wrap(err, "export: write CSV header")
	}
	for _, t := range trends {
		if err := cw.Write(record(t)); err != nil {
			return eris.Wrap(err, "export: write CSV row")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush CSV")
}

// WriteXLSX writes a single-sheet workbook. Scores are numeric cells.
func WriteXLSX(w io.Writer, trends []model.HealthTrend) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	hdr := sheet.AddRow()
	for _, name := range Header() {
		hdr.AddCell().SetString(name)
	}

	for _, t := range trends {
		row := sheet.AddRow()
		row.AddCell().SetString(t.AccountID)
		row.AddCell().SetString(fmt.Sprintf("%04d-%02d", t.Year, t.Month))
		row.AddCell().SetInt(t.Month)
		row.AddCell().SetInt(t.Year)
		row.AddCell().SetFloat(t.OverallScore)
		for _, c := range model.Categories() {
			row.AddCell().SetFloat(t.CategoryScore(c))
		}
		row.AddCell().SetInt(t.TotalKPIs)
		row.AddCell().SetInt(t.ValidKPIs)
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}

// WriteTable writes a fixed-width summary for terminals.
func WriteTable(w io.Writer, trends []model.HealthTrend) error {
	header := fmt.Sprintf("%-8s %8s %7s %7s %7s %7s %7s %6s\n",
		"Period", "Overall", "Usage", "Support", "Sent.", "Outcome", "Relat.", "KPIs")
	if _, err := fmt.Fprint(w, header); err != nil {
		return eris.Wrap(err, "export: write table header")
	}
	if _, err := fmt.Fprintln(w, strings.Repeat("-", 66)); err != nil {
		return eris.Wrap(err, "export: write table separator")
	}

	for _, t := range trends {
		line := fmt.Sprintf("%04d-%02d  %8.2f %7.2f %7.2f %7.2f %7.2f %7.2f %6s\n",
			t.Year, t.Month,
			t.OverallScore,
			t.ProductUsageScore,
			t.SupportScore,
			t.CustomerSentimentScore,
			t.BusinessOutcomesScore,
			t.RelationshipStrengthScore,
			fmt.Sprintf("%d/%d", t.ValidKPIs, t.TotalKPIs))
		if _, err := fmt.Fprint(w, line); err != nil {
			return eris.Wrap(err, "export: write table row")
		}
	}
	return nil
}
