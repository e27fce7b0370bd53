// Package report aggregates open sales into X previews and Z snapshots.
package report

import (
	"slices"
	"strings"
	"time"

	"tillbook/backend/internal/domain"
)

// Summarize totals the given sales and groups their tenders by method.
// The breakdown is sorted by method so equal inputs render identically.
func Summarize(sales []domain.Sale) (domain.ReportTotals, []domain.MethodTotal) {
	totals := domain.ReportTotals{}
	byMethod := map[string]int64{}

	for _, sale := range sales {
		totals.SalesCount++
		totals.SubtotalCents += sale.SubtotalCents
		totals.TaxCents += sale.TaxCents
		totals.TotalCents += sale.TotalCents
		totals.PaidCents += sale.PaidCents
		totals.ChangeCents += sale.ChangeCents
		for _, payment := range sale.Payments {
			byMethod[payment.Method] += payment.AmountCents
		}
	}

	breakdown := make([]domain.MethodTotal, 0, len(byMethod))
	for method, amount := range byMethod {
		breakdown = append(breakdown, domain.MethodTotal{Method: method, AmountCents: amount})
	}
	slices.SortFunc(breakdown, func(a, b domain.MethodTotal) int {
		return strings.Compare(a.Method, b.Method)
	})
	return totals, breakdown
}

// Preview builds an unsaved X report over open sales.
func Preview(businessDate string, terminalID string, sales []domain.Sale, at time.Time) domain.Report {
	totals, breakdown := Summarize(sales)
	return domain.Report{
		Kind:             domain.ReportKindX,
		BusinessDate:     businessDate,
		TerminalID:       terminalID,
		CreatedAt:        at,
		PaymentsByMethod: breakdown,
		ReportTotals:     totals,
	}
}

// Snapshot builds the Z report a store persists when it closes sales.
func Snapshot(businessDate string, terminalID string, closedBy string, sales []domain.Sale, at time.Time) domain.Report {
	r := Preview(businessDate, terminalID, sales, at)
	r.Kind = domain.ReportKindZ
	r.CreatedBy = closedBy
	return r
}

// Matches reports whether a sale is open and falls inside the scope.
func Matches(sale domain.Sale, businessDate string, terminalID string) bool {
	if sale.Closed() || sale.BusinessDate != businessDate {
		return false
	}
	return terminalID == "" || sale.TerminalID == terminalID
}
