package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tillbook/backend/internal/domain"
)

func sampleReport() domain.Report {
	return domain.Report{
		ID:           4,
		Kind:         domain.ReportKindZ,
		BusinessDate: "2026-10-16",
		TerminalID:   "T1",
		CreatedBy:    "manager",
		PaymentsByMethod: []domain.MethodTotal{
			{Method: "CARD", AmountCents: 6000},
			{Method: "CASH", AmountCents: 9000},
		},
		ReportTotals: domain.ReportTotals{SalesCount: 3, SubtotalCents: 15000, TotalCents: 15000, PaidCents: 15000},
	}
}

func TestCSV(t *testing.T) {
	out, err := CSV(sampleReport())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	assert.Equal(t, "section,key,value", lines[0])
	assert.Contains(t, lines, "summary,total,150.00")
	assert.Contains(t, lines, "summary,sales_count,3")
	assert.Contains(t, lines, "payment,CASH,90.00")
}

func TestXLSX(t *testing.T) {
	out, err := XLSX(sampleReport())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"Section", "Key", "Value"}, rows[0])
	assert.Contains(t, rows, []string{"summary", "business_date", "2026-10-16"})
	assert.Contains(t, rows, []string{"payment", "CARD", "60.00"})
}

func TestHTMLEscapesFields(t *testing.T) {
	r := sampleReport()
	r.CreatedBy = "<script>x</script>"

	out, err := HTML(r)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<script>x</script>")
	assert.Contains(t, string(out), "Total: 150.00")
}
