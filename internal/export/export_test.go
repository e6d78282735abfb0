package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/health-engine/internal/model"
)

func sampleTrends() []model.HealthTrend {
	return []model.HealthTrend{
		{
			AccountID:         "acct-1",
			Month:             3,
			Year:              2026,
			OverallScore:      40.1,
			ProductUsageScore: 83.5,
			SupportScore:      75.25,
			TotalKPIs:         4,
			ValidKPIs:         2,
		},
		{
			AccountID:    "acct-1",
			Month:        2,
			Year:         2026,
			OverallScore: 62,
			SupportScore: 100,
			TotalKPIs:    3,
			ValidKPIs:    3,
		},
	}
}

func TestHeader(t *testing.T) {
	h := Header()
	assert.Equal(t, "account_id", h[0])
	assert.Contains(t, h, "product_usage_score")
	assert.Contains(t, h, "relationship_strength_score")
	assert.Equal(t, "valid_kpis", h[len(h)-1])
	assert.Len(t, h, 12)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleTrends()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Header(), rows[0])
	assert.Equal(t, []string{
		"acct-1", "2026-03", "3", "2026", "40.10",
		"83.50", "75.25", "0.00", "0.00", "0.00",
		"4", "2",
	}, rows[1])
	assert.Equal(t, "2026-02", rows[2][1])
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, strings.Join(Header(), ",")+"\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleTrends()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "account_id", sheet.Rows[0].Cells[0].String())
	assert.Equal(t, "2026-03", sheet.Rows[1].Cells[1].String())

	overall, err := sheet.Rows[1].Cells[4].Float()
	require.NoError(t, err)
	assert.InDelta(t, 40.1, overall, 0.0001)

	valid, err := sheet.Rows[2].Cells[11].Int()
	require.NoError(t, err)
	assert.Equal(t, 3, valid)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, sampleTrends()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "Overall")
	assert.Contains(t, lines[2], "2026-03")
	assert.Contains(t, lines[2], "40.10")
	assert.Contains(t, lines[2], "2/4")
}

func TestWrite_Formats(t *testing.T) {
	var csvBuf, tableBuf bytes.Buffer
	require.NoError(t, Write(&csvBuf, "CSV", sampleTrends()))
	assert.True(t, strings.HasPrefix(csvBuf.String(), "account_id,"))

	require.NoError(t, Write(&tableBuf, "", sampleTrends()))
	assert.Contains(t, tableBuf.String(), "Period")

	err := Write(&bytes.Buffer{}, "pdf", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")
}
