package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/metrics"
	"tillbook/backend/internal/sale"
	"tillbook/backend/internal/store"
)

var (
	// ErrPersistenceFailed wraps store failures so callers can tell them
	// apart from validation errors.
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrInvalidDate       = errors.New("invalid business date")
	// ErrManagerPINRequired rejects a cashier price override without a
	// valid manager or admin PIN.
	ErrManagerPINRequired = errors.New("manager pin required for price override")
)

// closed Z reports never change, so they can stay cached for a day.
const reportCacheTTL = 24 * time.Hour

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Location *time.Location
	CacheTTL time.Duration
	Now      func() time.Time
}

type Service struct {
	repo     store.Repository
	cache    cache.Cache
	metrics  *metrics.Metrics
	logger   *zap.Logger
	builder  *sale.Builder
	location *time.Location
	cacheTTL time.Duration
	now      func() time.Time
}

func New(repo store.Repository, cacheStore cache.Cache, recorder *metrics.Metrics, logger *zap.Logger, opts Options) *Service {
	if cacheStore == nil {
		cacheStore = cache.NoopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Service{
		repo:     repo,
		cache:    cacheStore,
		metrics:  recorder,
		logger:   logger.Named("service"),
		location: opts.Location,
		cacheTTL: opts.CacheTTL,
		now:      opts.Now,
	}
	s.builder = sale.NewBuilder(catalogReader{svc: s})
	return s
}

// ListProducts looks up active products by free text, SKU or barcode.
func (s *Service) ListProducts(ctx context.Context, filter store.ProductFilter) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx, filter.Normalize())
	if err != nil {
		return nil, s.persistenceError("list products", err)
	}
	return products, nil
}

// ListPaymentMethods returns active methods ordered by sort then id.
func (s *Service) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	cached, found, err := s.cache.GetPaymentMethods(ctx)
	if err != nil {
		s.logger.Warn("payment method cache read failed", zap.Error(err))
	}
	if found {
		return cached, nil
	}

	methods, err := s.repo.ListPaymentMethods(ctx)
	if err != nil {
		return nil, s.persistenceError("list payment methods", err)
	}
	if err := s.cache.SetPaymentMethods(ctx, methods, s.cacheTTL); err != nil {
		s.logger.Warn("payment method cache write failed", zap.Error(err))
	}
	return methods, nil
}

// catalogReader prices carts against the store, serving active payment
// methods from the cache when it can.
type catalogReader struct {
	svc *Service
}

func (c catalogReader) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	return c.svc.repo.GetProductsByIDs(ctx, ids)
}

func (c catalogReader) GetPaymentMethodsByIDs(ctx context.Context, ids []int64) (map[int64]domain.PaymentMethod, error) {
	result := make(map[int64]domain.PaymentMethod, len(ids))
	active, err := c.svc.ListPaymentMethods(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.PaymentMethod, len(active))
	for _, m := range active {
		byID[m.ID] = m
	}

	missing := make([]int64, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			result[id] = m
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.svc.repo.GetPaymentMethodsByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, m := range fetched {
		result[id] = m
	}
	return result, nil
}

// businessDate validates a YYYY-MM-DD date, defaulting to today in the
// business timezone when raw is empty and allowEmpty is set.
func (s *Service) businessDate(raw string, allowEmpty bool) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if !allowEmpty {
			return "", ErrInvalidDate
		}
		return s.now().In(s.location).Format(domain.DateLayout), nil
	}
	parsed, err := time.ParseInLocation(domain.DateLayout, trimmed, s.location)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, trimmed)
	}
	return parsed.Format(domain.DateLayout), nil
}

func (s *Service) persistenceError(op string, err error) error {
	s.logger.Error(op+" failed", zap.Error(err))
	return fmt.Errorf("%w: %s: %w", ErrPersistenceFailed, op, err)
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return ""
}
