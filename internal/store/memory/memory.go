package memory

import (
	"cmp"
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/report"
	"tillbook/backend/internal/store"
)

// Store keeps the catalog, sales and Z reports in process. One mutex
// covers every write, so sale creation and report closing are atomic.
type Store struct {
	mu              sync.RWMutex
	products        map[int64]domain.Product
	paymentMethods  map[int64]domain.PaymentMethod
	sales           []*domain.Sale
	salesByIdem     map[string]int64
	reports         []domain.Report
	usersByUsername map[string]domain.UserAccount
}

// vatBps is the seeded 15% VAT rate.
const vatBps = 1500

func New() *Store {
	return &Store{
		products:        make(map[int64]domain.Product),
		paymentMethods:  make(map[int64]domain.PaymentMethod),
		sales:           make([]*domain.Sale, 0, 64),
		salesByIdem:     make(map[string]int64),
		reports:         make([]domain.Report, 0, 8),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with the demo catalog and staff accounts.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	for _, p := range []domain.Product{
		{ID: 1, SKU: "TEA001", Name: "Milk Tea", PriceCents: 2500, TaxRateBps: vatBps, Active: true},
		{ID: 2, SKU: "SND001", Barcode: "8901234567890", Name: "Chicken Sandwich", PriceCents: 12000, TaxRateBps: vatBps, Active: true},
		{ID: 3, SKU: "WTR500", Barcode: "8991002101005", Name: "Water 500ml", PriceCents: 800, Active: true},
	} {
		s.products[p.ID] = p
	}
	for _, m := range []domain.PaymentMethod{
		{ID: 1, Code: "CASH", Label: "Cash", Active: true, OpensDrawer: true, Sort: 1},
		{ID: 2, Code: "CARD", Label: "Card", Active: true, Sort: 2},
		{ID: 3, Code: "QR", Label: "QR Payment", Active: true, Sort: 3},
	} {
		s.paymentMethods[m.ID] = m
	}
	s.usersByUsername = seedUsers(logger)
	return s
}

// seedUsers builds the demo staff accounts. PINs come from SEED_ADMIN_PIN,
// SEED_MANAGER_PIN and SEED_CASHIER_PIN with dev defaults otherwise. The
// postgres store never uses these.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPIN := envOr("SEED_ADMIN_PIN", "9999")
	managerPIN := envOr("SEED_MANAGER_PIN", "2222")
	cashierPIN := envOr("SEED_CASHIER_PIN", "1111")
	if os.Getenv("SEED_ADMIN_PIN") == "" || os.Getenv("SEED_MANAGER_PIN") == "" || os.Getenv("SEED_CASHIER_PIN") == "" {
		logger.Warn("memory store using default dev PINs; set SEED_ADMIN_PIN, SEED_MANAGER_PIN and SEED_CASHIER_PIN to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		name     string
		pin      string
		role     string
	}{
		{"admin", "Admin", adminPIN, domain.RoleAdmin},
		{"manager", "Manager", managerPIN, domain.RoleManager},
		{"cashier", "Cashier", cashierPIN, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.pin), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed PIN", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Name:      u.name,
			PINHash:   string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PutProduct inserts or replaces a catalog product.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// PutPaymentMethod inserts or replaces a payment method.
func (s *Store) PutPaymentMethod(m domain.PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentMethods[m.ID] = m
}

func (s *Store) ListProducts(_ context.Context, filter store.ProductFilter) ([]domain.Product, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active || !filter.Matches(p) {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(products) > filter.Limit {
		products = products[:filter.Limit]
	}
	return products, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) ListPaymentMethods(_ context.Context) ([]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	methods := make([]domain.PaymentMethod, 0, len(s.paymentMethods))
	for _, m := range s.paymentMethods {
		if !m.Active {
			continue
		}
		methods = append(methods, m)
	}
	slices.SortFunc(methods, func(a, b domain.PaymentMethod) int {
		if a.Sort != b.Sort {
			return cmp.Compare(a.Sort, b.Sort)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return methods, nil
}

func (s *Store) GetPaymentMethodsByIDs(_ context.Context, ids []int64) (map[int64]domain.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.PaymentMethod, len(ids))
	for _, id := range ids {
		if m, ok := s.paymentMethods[id]; ok {
			result[id] = m
		}
	}
	return result, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if err := store.ValidateSale(sale); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey != "" {
		if _, exists := s.salesByIdem[sale.IdempotencyKey]; exists {
			return nil, store.ErrDuplicateSale
		}
	}

	sale.ID = int64(len(s.sales) + 1)
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	saved := cloneSale(&sale)
	s.sales = append(s.sales, saved)
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	return cloneSale(saved), nil
}

func (s *Store) FindSaleByID(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 1 || id > int64(len(s.sales)) {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.sales[id-1]), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.sales[id-1]), nil
}

func (s *Store) ListOpenSales(_ context.Context, scope store.Scope) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.openSalesLocked(scope), nil
}

func (s *Store) openSalesLocked(scope store.Scope) []domain.Sale {
	open := make([]domain.Sale, 0, 16)
	for _, sale := range s.sales {
		if report.Matches(*sale, scope.BusinessDate, scope.TerminalID) {
			open = append(open, *cloneSale(sale))
		}
	}
	return open
}

func (s *Store) CloseReport(_ context.Context, scope store.Scope, closedBy string, at time.Time) (*domain.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := s.openSalesLocked(scope)
	if len(open) == 0 {
		return nil, store.ErrNothingToClose
	}

	snapshot := report.Snapshot(scope.BusinessDate, scope.TerminalID, closedBy, open, at.UTC())
	snapshot.ID = int64(len(s.reports) + 1)
	for _, sale := range open {
		reportID := snapshot.ID
		s.sales[sale.ID-1].ReportID = &reportID
	}
	s.reports = append(s.reports, cloneReport(snapshot))

	created := cloneReport(snapshot)
	return &created, nil
}

func (s *Store) FindReportByID(_ context.Context, id int64) (*domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id < 1 || id > int64(len(s.reports)) {
		return nil, store.ErrNotFound
	}
	found := cloneReport(s.reports[id-1])
	return &found, nil
}

func (s *Store) ListReports(_ context.Context, filter store.ReportFilter) ([]domain.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Report, 0, len(s.reports))
	for _, r := range s.reports {
		if filter.BusinessDate != "" && r.BusinessDate != filter.BusinessDate {
			continue
		}
		if filter.TerminalID != "" && r.TerminalID != filter.TerminalID {
			continue
		}
		result = append(result, cloneReport(r))
	}
	slices.SortFunc(result, func(a, b domain.Report) int {
		if c := strings.Compare(b.BusinessDate, a.BusinessDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	limit := store.ClampLimit(filter.Limit)
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Lines = slices.Clone(src.Lines)
	dup.Payments = slices.Clone(src.Payments)
	if src.ReportID != nil {
		id := *src.ReportID
		dup.ReportID = &id
	}
	return &dup
}

func cloneReport(src domain.Report) domain.Report {
	dup := src
	dup.PaymentsByMethod = slices.Clone(src.PaymentsByMethod)
	return dup
}
