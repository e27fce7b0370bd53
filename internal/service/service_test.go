package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/metrics"
	"tillbook/backend/internal/sale"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/store/memory"
)

var fixedNow = time.Date(2026, 10, 16, 10, 30, 0, 0, time.UTC)

type mapCache struct {
	mu         sync.Mutex
	methods    []domain.PaymentMethod
	reports    map[int64]domain.Report
	reportHits int
}

func (c *mapCache) GetPaymentMethods(_ context.Context) ([]domain.PaymentMethod, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.methods, c.methods != nil, nil
}

func (c *mapCache) SetPaymentMethods(_ context.Context, methods []domain.PaymentMethod, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods = methods
	return nil
}

func (c *mapCache) GetReport(_ context.Context, id int64) (*domain.Report, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reports[id]
	if !ok {
		return nil, false, nil
	}
	c.reportHits++
	return &r, true, nil
}

func (c *mapCache) SetReport(_ context.Context, r *domain.Report, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reports == nil {
		c.reports = map[int64]domain.Report{}
	}
	c.reports[r.ID] = *r
	return nil
}

// failingRepo breaks sale persistence while keeping every read working.
type failingRepo struct {
	store.Repository
}

func (failingRepo) CreateSale(_ context.Context, _ domain.Sale) (*domain.Sale, error) {
	return nil, errors.New("connection reset by peer")
}

func newTestRepo() *memory.Store {
	repo := memory.New()
	repo.PutProduct(domain.Product{ID: 1, SKU: "TEA001", Name: "Milk Tea", PriceCents: 2500, Active: true})
	repo.PutProduct(domain.Product{ID: 2, SKU: "SND001", Name: "Chicken Sandwich", PriceCents: 12000, TaxRateBps: 1500, Active: true})
	repo.PutProduct(domain.Product{ID: 3, SKU: "WTR500", Name: "Water 500ml", PriceCents: 800, Active: true})
	repo.PutPaymentMethod(domain.PaymentMethod{ID: 1, Code: "CASH", Label: "Cash", Active: true, Sort: 1})
	repo.PutPaymentMethod(domain.PaymentMethod{ID: 2, Code: "CARD", Label: "Card", Active: true, Sort: 2})
	return repo
}

func newTestService(t *testing.T, repo store.Repository, c *mapCache) *Service {
	t.Helper()
	if c == nil {
		c = &mapCache{}
	}
	return New(repo, c, metrics.New(), zaptest.NewLogger(t), Options{Now: func() time.Time { return fixedNow }})
}

func cashSale(terminal string, items []domain.CreateSaleItem, paid int64) domain.CreateSaleRequest {
	return domain.CreateSaleRequest{
		TerminalID: terminal,
		CashierID:  "cashier",
		Items:      items,
		Payments:   []domain.CreateSalePayment{{Method: "CASH", AmountCents: paid}},
	}
}

func unitCents(v int64) *int64 { return &v }

func TestCreateSaleRoundTrip(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	resp, err := svc.CreateSale(ctx, cashSale("T1", []domain.CreateSaleItem{
		{ProductID: 1, Qty: 2},
		{ProductID: 2, Qty: 1},
	}, 18800))
	require.NoError(t, err)
	assert.False(t, resp.Duplicate)
	assert.Equal(t, int64(18800), resp.TotalCents)

	stored, err := svc.GetSale(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(17000), stored.SubtotalCents)
	assert.Equal(t, int64(1800), stored.TaxCents)
	assert.Equal(t, int64(18800), stored.TotalCents)
	assert.Equal(t, int64(0), stored.ChangeCents)
	assert.Equal(t, "2026-10-16", stored.BusinessDate)
	assert.Equal(t, "CASH", stored.PaymentMethod)
	assert.Len(t, stored.Lines, 2)
	assert.Nil(t, stored.ReportID)
}

func TestCreateSaleUnderpaidPersistsNothing(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	_, err := svc.CreateSale(ctx, cashSale("T1", []domain.CreateSaleItem{{ProductID: 3, Qty: 3}}, 2000))
	require.Error(t, err)
	assert.ErrorIs(t, err, sale.ErrInsufficientPayment)
	assert.False(t, errors.Is(err, ErrPersistenceFailed))

	open, err := repo.ListOpenSales(ctx, store.Scope{BusinessDate: "2026-10-16"})
	require.NoError(t, err)
	assert.Empty(t, open)

	resp, err := svc.CreateSale(ctx, cashSale("T1", []domain.CreateSaleItem{{ProductID: 3, Qty: 3}}, 2400))
	require.NoError(t, err)
	assert.Equal(t, int64(0), resp.ChangeCents)
}

func TestCreateSaleOverflowPersistsNothing(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	requests := []domain.CreateSaleRequest{
		cashSale("T1", []domain.CreateSaleItem{{ProductID: 3, Qty: 23058430092136940}}, 500),
		cashSale("T1", []domain.CreateSaleItem{{ProductID: 3, Qty: 11529215046068470}}, 500),
		cashSale("T1", []domain.CreateSaleItem{{ProductID: 3, Qty: 1, UnitPrice: "92233720368547758.08"}}, 800),
		{
			TerminalID: "T1",
			Items:      []domain.CreateSaleItem{{ProductID: 3, Qty: 1}},
			Payments: []domain.CreateSalePayment{
				{Method: "CASH", AmountCents: math.MaxInt64},
				{Method: "CARD", AmountCents: math.MaxInt64},
			},
		},
	}
	for i, req := range requests {
		_, err := svc.CreateSale(ctx, req)
		require.Error(t, err, "request %d", i)
		assert.ErrorIs(t, err, sale.ErrAmountOutOfRange, "request %d", i)
		assert.NotErrorIs(t, err, ErrPersistenceFailed)
	}

	preview, err := svc.PreviewReport(ctx, "2026-10-16", "")
	require.NoError(t, err)
	assert.Zero(t, preview.SalesCount)
	assert.Zero(t, preview.TotalCents)
}

func TestCreateSaleDecimalInputs(t *testing.T) {
	svc := newTestService(t, newTestRepo(), nil)

	resp, err := svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		TerminalID: "T1",
		Items:      []domain.CreateSaleItem{{ProductID: 3, Qty: 2, UnitPrice: "7.505"}},
		Payments:   []domain.CreateSalePayment{{MethodID: 2, Amount: "20"}},
	})
	require.NoError(t, err)
	// 7.505 rounds to 751 cents.
	assert.Equal(t, int64(1502), resp.TotalCents)
	assert.Equal(t, int64(2000), resp.PaidCents)
	assert.Equal(t, int64(498), resp.ChangeCents)
	assert.Equal(t, "CARD", resp.PaymentMethod)

	_, err = svc.CreateSale(context.Background(), domain.CreateSaleRequest{
		TerminalID: "T1",
		Items:      []domain.CreateSaleItem{{ProductID: 3, Qty: 1}},
		Payments:   []domain.CreateSalePayment{{Method: "CASH", Amount: "ten"}},
	})
	assert.ErrorIs(t, err, sale.ErrInvalidAmount)
}

func TestCreateSaleCashierDefaultsToActor(t *testing.T) {
	svc := newTestService(t, newTestRepo(), nil)
	ctx := WithActor(context.Background(), domain.Actor{Username: "cashier-7", Role: domain.RoleCashier})

	req := cashSale("T1", []domain.CreateSaleItem{{ProductID: 3, Qty: 1}}, 800)
	req.CashierID = ""
	resp, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)

	stored, err := svc.GetSale(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "cashier-7", stored.CashierID)
}

func TestCreateSaleIdempotencyKey(t *testing.T) {
	repo := newTestRepo()
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	req := cashSale("T1", []domain.CreateSaleItem{{ProductID: 3, Qty: 1}}, 1000)
	req.IdempotencyKey = "term1-0001"

	first, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)
	second, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Duplicate)

	open, err := repo.ListOpenSales(ctx, store.Scope{BusinessDate: "2026-10-16"})
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestCreateSalePersistenceFailure(t *testing.T) {
	svc := newTestService(t, failingRepo{Repository: newTestRepo()}, nil)

	_, err := svc.CreateSale(context.Background(), cashSale("T1", []domain.CreateSaleItem{{ProductID: 3, Qty: 1}}, 800))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistenceFailed)
	assert.False(t, sale.IsValidation(err))
}

func TestCreateSaleRejectsBadDate(t *testing.T) {
	svc := newTestService(t, newTestRepo(), nil)

	req := cashSale("T1", []domain.CreateSaleItem{{ProductID: 3, Qty: 1}}, 800)
	req.BusinessDate = "16/10/2026"
	_, err := svc.CreateSale(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestPreviewAndCloseDay(t *testing.T) {
	repo := newTestRepo()
	c := &mapCache{}
	svc := newTestService(t, repo, c)
	ctx := WithActor(context.Background(), domain.Actor{Username: "manager", Role: domain.RoleManager})

	for _, total := range []int64{5000, 6000, 4000} {
		_, err := svc.CreateSale(ctx, cashSale("T1", []domain.CreateSaleItem{{ProductID: 3, Qty: 1, UnitCents: unitCents(total)}}, total))
		require.NoError(t, err)
	}

	preview, err := svc.PreviewReport(ctx, "2026-10-16", "")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportKindX, preview.Kind)
	assert.Equal(t, int64(15000), preview.TotalCents)
	assert.Equal(t, int64(3), preview.SalesCount)

	again, err := svc.PreviewReport(ctx, "2026-10-16", "")
	require.NoError(t, err)
	assert.Equal(t, preview, again)

	closed, err := svc.CloseReport(ctx, "2026-10-16", "")
	require.NoError(t, err)
	assert.Equal(t, domain.ReportKindZ, closed.Kind)
	assert.Equal(t, preview.ReportTotals, closed.ReportTotals)
	assert.Equal(t, preview.PaymentsByMethod, closed.PaymentsByMethod)
	assert.Equal(t, "manager", closed.CreatedBy)

	after, err := svc.PreviewReport(ctx, "2026-10-16", "")
	require.NoError(t, err)
	assert.Equal(t, int64(0), after.TotalCents)
	assert.Equal(t, int64(0), after.SalesCount)

	_, err = svc.CloseReport(ctx, "2026-10-16", "")
	assert.ErrorIs(t, err, store.ErrNothingToClose)

	fetched, err := svc.GetReport(ctx, closed.ID)
	require.NoError(t, err)
	assert.Equal(t, closed.ReportTotals, fetched.ReportTotals)
	assert.Equal(t, 1, c.reportHits)

	listed, err := svc.ListReports(ctx, "2026-10-16", "", 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, closed.ID, listed[0].ID)

	stamped, err := svc.GetSale(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, stamped.ReportID)
	assert.Equal(t, closed.ID, *stamped.ReportID)
}

func TestPreviewDefaultsToToday(t *testing.T) {
	svc := newTestService(t, newTestRepo(), nil)

	preview, err := svc.PreviewReport(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-16", preview.BusinessDate)
}

func TestBusinessTimezoneDecidesToday(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	late := time.Date(2026, 10, 16, 20, 0, 0, 0, time.UTC)
	svc := New(newTestRepo(), nil, nil, zaptest.NewLogger(t), Options{Location: loc, Now: func() time.Time { return late }})

	preview, err := svc.PreviewReport(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-17", preview.BusinessDate)
}

func TestCloseReportRequiresDate(t *testing.T) {
	svc := newTestService(t, newTestRepo(), nil)

	_, err := svc.CloseReport(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestCloseReportScopesByTerminal(t *testing.T) {
	svc := newTestService(t, newTestRepo(), nil)
	ctx := context.Background()

	_, err := svc.CreateSale(ctx, cashSale("T1", []domain.CreateSaleItem{{ProductID: 3, Qty: 1}}, 800))
	require.NoError(t, err)
	_, err = svc.CreateSale(ctx, cashSale("T2", []domain.CreateSaleItem{{ProductID: 3, Qty: 2}}, 1600))
	require.NoError(t, err)

	closed, err := svc.CloseReport(ctx, "2026-10-16", "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(800), closed.TotalCents)
	assert.Equal(t, "system", closed.CreatedBy)

	rest, err := svc.PreviewReport(ctx, "2026-10-16", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1600), rest.TotalCents)
	assert.Equal(t, int64(1), rest.SalesCount)
}

func TestListProductsFilters(t *testing.T) {
	repo := newTestRepo()
	repo.PutProduct(domain.Product{ID: 4, SKU: "CHP001", Barcode: "8992222000014", Name: "Potato Chips", PriceCents: 1500, Active: true})
	svc := newTestService(t, repo, nil)
	ctx := context.Background()

	all, err := svc.ListProducts(ctx, store.ProductFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	scanned, err := svc.ListProducts(ctx, store.ProductFilter{Barcode: " 8992222000014 "})
	require.NoError(t, err)
	require.Len(t, scanned, 1)
	assert.Equal(t, "CHP001", scanned[0].SKU)

	searched, err := svc.ListProducts(ctx, store.ProductFilter{Query: "CHIP"})
	require.NoError(t, err)
	require.Len(t, searched, 1)
	assert.Equal(t, int64(4), searched[0].ID)
}

func TestListPaymentMethodsUsesCache(t *testing.T) {
	c := &mapCache{}
	svc := newTestService(t, newTestRepo(), c)

	methods, err := svc.ListPaymentMethods(context.Background())
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.Equal(t, methods, c.methods)

	c.methods = []domain.PaymentMethod{{ID: 9, Code: "STALE", Active: true}}
	cached, err := svc.ListPaymentMethods(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "STALE", cached[0].Code)
}

func TestGetMissingRecords(t *testing.T) {
	svc := newTestService(t, newTestRepo(), nil)

	_, err := svc.GetSale(context.Background(), 404)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.GetReport(context.Background(), 404)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
