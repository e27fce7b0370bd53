// Package export renders Z reports for download.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html/template"
	"strconv"

	"github.com/xuri/excelize/v2"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/money"
)

const sheetName = "Z Report"

type row struct {
	section string
	key     string
	value   string
}

func reportRows(r domain.Report) []row {
	terminal := r.TerminalID
	if terminal == "" {
		terminal = "all"
	}
	rows := []row{
		{"summary", "report_id", strconv.FormatInt(r.ID, 10)},
		{"summary", "kind", r.Kind},
		{"summary", "business_date", r.BusinessDate},
		{"summary", "terminal_id", terminal},
		{"summary", "created_by", r.CreatedBy},
		{"summary", "sales_count", strconv.FormatInt(r.SalesCount, 10)},
		{"summary", "subtotal", money.Format(r.SubtotalCents)},
		{"summary", "tax", money.Format(r.TaxCents)},
		{"summary", "total", money.Format(r.TotalCents)},
		{"summary", "paid", money.Format(r.PaidCents)},
		{"summary", "change", money.Format(r.ChangeCents)},
	}
	for _, m := range r.PaymentsByMethod {
		rows = append(rows, row{"payment", m.Method, money.Format(m.AmountCents)})
	}
	return rows
}

func CSV(r domain.Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"section", "key", "value"}); err != nil {
		return nil, err
	}
	for _, line := range reportRows(r) {
		if err := w.Write([]string{line.section, line.key, line.value}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func XLSX(r domain.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}
	header := []string{"Section", "Key", "Value"}
	for i, title := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell, title); err != nil {
			return nil, err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheetName, "A1", "C1", bold); err != nil {
		return nil, err
	}

	for i, line := range reportRows(r) {
		rowNum := i + 2
		values := []string{line.section, line.key, line.value}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return nil, err
			}
		}
	}
	if err := f.SetColWidth(sheetName, "A", "C", 20); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// reportHTMLTmpl escapes every field through html/template.
var reportHTMLTmpl = template.Must(template.New("z-report").Funcs(template.FuncMap{
	"cents": money.Format,
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>Z Report #{{.ID}} {{.BusinessDate}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
  </style>
</head>
<body>
  <h2>Z Report #{{.ID}} {{.BusinessDate}}</h2>
  <p>Terminal: {{if .TerminalID}}{{.TerminalID}}{{else}}all{{end}} | Closed by: {{.CreatedBy}}</p>
  <p>Sales: {{.SalesCount}}</p>
  <p>Subtotal: {{cents .SubtotalCents}} | Tax: {{cents .TaxCents}} | Total: {{cents .TotalCents}} | Paid: {{cents .PaidCents}} | Change: {{cents .ChangeCents}}</p>
  <table>
    <thead><tr><th>Method</th><th>Amount</th></tr></thead>
    <tbody>{{range .PaymentsByMethod}}<tr><td>{{.Method}}</td><td style="text-align:right;">{{cents .AmountCents}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func HTML(r domain.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := reportHTMLTmpl.Execute(&buf, r); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}
