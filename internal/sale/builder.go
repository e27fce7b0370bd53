// Package sale turns a cart and its tenders into a validated, fully priced
// Sale. It never writes; persistence is the caller's job.
package sale

import (
	"context"
	"fmt"
	"strings"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/money"
)

// Catalog is the read-only lookup the builder prices against.
type Catalog interface {
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	GetPaymentMethodsByIDs(ctx context.Context, ids []int64) (map[int64]domain.PaymentMethod, error)
}

type Builder struct {
	catalog Catalog
}

func NewBuilder(catalog Catalog) *Builder {
	return &Builder{catalog: catalog}
}

// Build validates the cart and tenders and returns an unsaved Sale.
// Lookup failures from the catalog are returned wrapped, not as validation errors.
func (b *Builder) Build(ctx context.Context, cart []domain.CartItem, tenders []domain.Tender, sc domain.SaleContext) (domain.Sale, error) {
	if len(cart) == 0 {
		return domain.Sale{}, ErrEmptyCart
	}
	if len(tenders) == 0 {
		return domain.Sale{}, ErrNoPayment
	}

	products, err := b.catalog.GetProductsByIDs(ctx, distinctProductIDs(cart))
	if err != nil {
		return domain.Sale{}, fmt.Errorf("lookup products: %w", err)
	}
	for _, item := range cart {
		if _, ok := products[item.ProductID]; !ok {
			return domain.Sale{}, &ProductNotFoundError{ProductID: item.ProductID}
		}
	}

	lines := make([]domain.SaleLine, 0, len(cart))
	subtotals := make([]int64, 0, len(cart))
	taxes := make([]int64, 0, len(cart))
	for _, item := range cart {
		line, err := priceLine(item, products[item.ProductID])
		if err != nil {
			return domain.Sale{}, err
		}
		lines = append(lines, line)
		subtotals = append(subtotals, line.SubtotalCents)
		taxes = append(taxes, line.TaxCents)
	}
	subtotal, err := money.Sum(subtotals...)
	if err != nil {
		return domain.Sale{}, err
	}
	tax, err := money.Sum(taxes...)
	if err != nil {
		return domain.Sale{}, err
	}
	total, err := money.Add(subtotal, tax)
	if err != nil {
		return domain.Sale{}, err
	}

	payments, err := b.resolveTenders(ctx, tenders)
	if err != nil {
		return domain.Sale{}, err
	}
	amounts := make([]int64, 0, len(payments))
	for _, p := range payments {
		amounts = append(amounts, p.AmountCents)
	}
	paid, err := money.Sum(amounts...)
	if err != nil {
		return domain.Sale{}, err
	}
	if paid < total {
		return domain.Sale{}, &InsufficientPaymentError{PaidCents: paid, TotalCents: total}
	}

	return domain.Sale{
		TerminalID:     sc.TerminalID,
		CashierID:      sc.CashierID,
		BusinessDate:   sc.BusinessDate,
		IdempotencyKey: sc.IdempotencyKey,
		SubtotalCents:  subtotal,
		TaxCents:       tax,
		TotalCents:     total,
		PaidCents:      paid,
		ChangeCents:    paid - total,
		PaymentMethod:  payments[0].Method,
		CreatedAt:      sc.CreatedAt,
		Lines:          lines,
		Payments:       payments,
	}, nil
}

func priceLine(item domain.CartItem, product domain.Product) (domain.SaleLine, error) {
	if item.Qty <= 0 {
		return domain.SaleLine{}, ErrInvalidQuantity
	}
	unit := product.PriceCents
	if item.UnitCentsOverride != nil {
		if *item.UnitCentsOverride <= 0 {
			return domain.SaleLine{}, ErrInvalidPrice
		}
		unit = *item.UnitCentsOverride
	}

	subtotal, err := money.Mul(unit, int64(item.Qty))
	if err != nil {
		return domain.SaleLine{}, err
	}
	tax, err := money.LineTax(subtotal, product.TaxRateBps)
	if err != nil {
		return domain.SaleLine{}, err
	}
	lineTotal, err := money.Add(subtotal, tax)
	if err != nil {
		return domain.SaleLine{}, err
	}
	return domain.SaleLine{
		ProductID:      product.ID,
		Qty:            item.Qty,
		UnitCents:      unit,
		TaxRateBps:     product.TaxRateBps,
		SubtotalCents:  subtotal,
		TaxCents:       tax,
		LineTotalCents: lineTotal,
	}, nil
}

func (b *Builder) resolveTenders(ctx context.Context, tenders []domain.Tender) ([]domain.Payment, error) {
	var lookupIDs []int64
	seen := make(map[int64]struct{}, len(tenders))
	for _, tender := range tenders {
		if strings.TrimSpace(tender.Method) != "" || tender.MethodID <= 0 {
			continue
		}
		if _, ok := seen[tender.MethodID]; ok {
			continue
		}
		seen[tender.MethodID] = struct{}{}
		lookupIDs = append(lookupIDs, tender.MethodID)
	}

	methods := map[int64]domain.PaymentMethod{}
	if len(lookupIDs) > 0 {
		var err error
		methods, err = b.catalog.GetPaymentMethodsByIDs(ctx, lookupIDs)
		if err != nil {
			return nil, fmt.Errorf("lookup payment methods: %w", err)
		}
	}

	payments := make([]domain.Payment, 0, len(tenders))
	for _, tender := range tenders {
		code := strings.TrimSpace(tender.Method)
		if code == "" && tender.MethodID > 0 {
			if method, ok := methods[tender.MethodID]; ok && method.Active {
				code = method.SettlementCode()
			}
		}
		if code == "" {
			return nil, ErrUnknownPaymentMethod
		}
		if tender.AmountCents <= 0 {
			return nil, ErrInvalidAmount
		}
		payments = append(payments, domain.Payment{Method: code, AmountCents: tender.AmountCents})
	}
	return payments, nil
}

func distinctProductIDs(cart []domain.CartItem) []int64 {
	seen := make(map[int64]struct{}, len(cart))
	ids := make([]int64, 0, len(cart))
	for _, item := range cart {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}
