package cache

import (
	"context"
	"time"

	"tillbook/backend/internal/domain"
)

// Cache holds data that is safe to serve stale for a TTL (payment methods)
// or never changes once written (closed Z reports).
type Cache interface {
	GetPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, bool, error)
	SetPaymentMethods(ctx context.Context, methods []domain.PaymentMethod, ttl time.Duration) error
	GetReport(ctx context.Context, id int64) (*domain.Report, bool, error)
	SetReport(ctx context.Context, report *domain.Report, ttl time.Duration) error
}

type NoopCache struct{}

func (NoopCache) GetPaymentMethods(_ context.Context) ([]domain.PaymentMethod, bool, error) {
	return nil, false, nil
}

func (NoopCache) SetPaymentMethods(_ context.Context, _ []domain.PaymentMethod, _ time.Duration) error {
	return nil
}

func (NoopCache) GetReport(_ context.Context, _ int64) (*domain.Report, bool, error) {
	return nil, false, nil
}

func (NoopCache) SetReport(_ context.Context, _ *domain.Report, _ time.Duration) error {
	return nil
}
