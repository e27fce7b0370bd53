package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/money"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidSale     = errors.New("invalid sale")
	ErrDuplicateSale   = errors.New("duplicate idempotency key")
	ErrNothingToClose  = errors.New("no open sales to close")
	ErrConcurrentClose = errors.New("concurrent close detected")
)

const (
	// MaxReportPage caps ListReports.
	MaxReportPage = 50
	// MaxProductPage caps ListProducts.
	MaxProductPage = 50
)

// ProductFilter narrows a catalog lookup. Query is a case-insensitive
// substring of name, SKU or barcode; SKU and Barcode must match exactly.
// Empty fields do not filter.
type ProductFilter struct {
	Query   string
	SKU     string
	Barcode string
	Limit   int
}

// Normalize trims the filter fields and clamps Limit to (0, MaxProductPage].
func (f ProductFilter) Normalize() ProductFilter {
	f.Query = strings.TrimSpace(f.Query)
	f.SKU = strings.TrimSpace(f.SKU)
	f.Barcode = strings.TrimSpace(f.Barcode)
	if f.Limit < 1 || f.Limit > MaxProductPage {
		f.Limit = MaxProductPage
	}
	return f
}

// Matches reports whether p passes the filter. Stores that filter in
// memory use it; SQL stores express the same rules in their query.
func (f ProductFilter) Matches(p domain.Product) bool {
	if f.SKU != "" && p.SKU != f.SKU {
		return false
	}
	if f.Barcode != "" && p.Barcode != f.Barcode {
		return false
	}
	if f.Query == "" {
		return true
	}
	q := strings.ToLower(f.Query)
	for _, field := range []string{p.Name, p.SKU, p.Barcode} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Scope selects the open sales of one business day, optionally one terminal.
type Scope struct {
	BusinessDate string
	TerminalID   string
}

type ReportFilter struct {
	BusinessDate string
	TerminalID   string
	Limit        int
}

type Repository interface {
	// ListProducts returns active products passing filter, by name.
	ListProducts(ctx context.Context, filter ProductFilter) ([]domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error)
	GetPaymentMethodsByIDs(ctx context.Context, ids []int64) (map[int64]domain.PaymentMethod, error)
	// CreateSale stores the sale with its lines and payments as one unit.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, id int64) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListOpenSales(ctx context.Context, scope Scope) ([]domain.Sale, error)
	// CloseReport snapshots the open sales of scope and stamps them with the
	// new report id in one transaction.
	CloseReport(ctx context.Context, scope Scope, closedBy string, at time.Time) (*domain.Report, error)
	FindReportByID(ctx context.Context, id int64) (*domain.Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]domain.Report, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

// ClampLimit keeps a page size within (0, MaxReportPage].
func ClampLimit(limit int) int {
	if limit < 1 || limit > MaxReportPage {
		return MaxReportPage
	}
	return limit
}

// ValidateSale checks the figures every store refuses to persist.
func ValidateSale(sale domain.Sale) error {
	if len(sale.Lines) == 0 || len(sale.Payments) == 0 {
		return ErrInvalidSale
	}
	if sale.BusinessDate == "" || sale.TerminalID == "" {
		return ErrInvalidSale
	}
	if sale.SubtotalCents < 0 || sale.TaxCents < 0 {
		return ErrInvalidSale
	}
	if total, err := money.Add(sale.SubtotalCents, sale.TaxCents); err != nil || sale.TotalCents != total {
		return ErrInvalidSale
	}
	if sale.PaidCents < sale.TotalCents || sale.ChangeCents != sale.PaidCents-sale.TotalCents {
		return ErrInvalidSale
	}
	if sale.ReportID != nil {
		return ErrInvalidSale
	}
	return nil
}
