package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/money"
	"tillbook/backend/internal/sale"
	"tillbook/backend/internal/store"
)

// CreateSale prices, validates and persists a sale. A repeated
// idempotency key returns the first sale with Duplicate set.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.CreateSaleResponse, error) {
	businessDate, err := s.businessDate(req.BusinessDate, true)
	if err != nil {
		s.metrics.SaleRejected("invalid_date")
		return domain.CreateSaleResponse{}, err
	}

	cashierID := strings.TrimSpace(req.CashierID)
	if cashierID == "" {
		cashierID = actorName(ctx)
	}
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)

	if idempotencyKey != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, idempotencyKey)
		if err == nil {
			return toCreateSaleResponse(existing, true), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.CreateSaleResponse{}, s.persistenceError("find sale by idempotency key", err)
		}
	}

	cart, err := toCartItems(req.Items)
	if err != nil {
		return domain.CreateSaleResponse{}, s.rejectSale(req, err)
	}
	tenders, err := toTenders(req.Payments)
	if err != nil {
		return domain.CreateSaleResponse{}, s.rejectSale(req, err)
	}

	built, err := s.builder.Build(ctx, cart, tenders, domain.SaleContext{
		TerminalID:     strings.TrimSpace(req.TerminalID),
		CashierID:      cashierID,
		BusinessDate:   businessDate,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      s.now().UTC(),
	})
	if err != nil {
		if sale.IsValidation(err) {
			return domain.CreateSaleResponse{}, s.rejectSale(req, err)
		}
		if errors.Is(err, ErrPersistenceFailed) {
			return domain.CreateSaleResponse{}, err
		}
		return domain.CreateSaleResponse{}, s.persistenceError("load catalog", err)
	}

	created, err := s.repo.CreateSale(ctx, built)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateSale) && idempotencyKey != "" {
			existing, findErr := s.repo.FindSaleByIdempotency(ctx, idempotencyKey)
			if findErr == nil {
				return toCreateSaleResponse(existing, true), nil
			}
			return domain.CreateSaleResponse{}, s.persistenceError("find sale by idempotency key", findErr)
		}
		return domain.CreateSaleResponse{}, s.persistenceError("create sale", err)
	}

	s.metrics.SaleCreated(created.TotalCents)
	s.logger.Info("sale created",
		zap.Int64("sale_id", created.ID),
		zap.String("terminal_id", created.TerminalID),
		zap.String("cashier_id", created.CashierID),
		zap.String("business_date", created.BusinessDate),
		zap.Int64("total_cents", created.TotalCents),
		zap.Int64("change_cents", created.ChangeCents),
		zap.String("payment_method", created.PaymentMethod),
	)
	return toCreateSaleResponse(created, false), nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	found, err := s.repo.FindSaleByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, err
		}
		return domain.Sale{}, s.persistenceError("find sale", err)
	}
	return *found, nil
}

func (s *Service) rejectSale(req domain.CreateSaleRequest, err error) error {
	reason := sale.Reason(err)
	s.metrics.SaleRejected(reason)
	s.logger.Info("sale rejected",
		zap.String("terminal_id", req.TerminalID),
		zap.String("reason", reason),
		zap.Error(err),
	)
	return err
}

func toCartItems(items []domain.CreateSaleItem) ([]domain.CartItem, error) {
	cart := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		entry := domain.CartItem{ProductID: item.ProductID, Qty: item.Qty}
		switch {
		case item.UnitCents != nil:
			unit := *item.UnitCents
			entry.UnitCentsOverride = &unit
		case strings.TrimSpace(item.UnitPrice) != "":
			unit, err := money.ParseMinorUnits(item.UnitPrice)
			if errors.Is(err, money.ErrAmountOutOfRange) {
				return nil, sale.ErrAmountOutOfRange
			}
			if err != nil {
				return nil, sale.ErrInvalidPrice
			}
			entry.UnitCentsOverride = &unit
		}
		cart = append(cart, entry)
	}
	return cart, nil
}

func toTenders(payments []domain.CreateSalePayment) ([]domain.Tender, error) {
	tenders := make([]domain.Tender, 0, len(payments))
	for _, p := range payments {
		tender := domain.Tender{MethodID: p.MethodID, Method: strings.TrimSpace(p.Method), AmountCents: p.AmountCents}
		if tender.AmountCents == 0 && strings.TrimSpace(p.Amount) != "" {
			amount, err := money.ParseMinorUnits(p.Amount)
			if errors.Is(err, money.ErrAmountOutOfRange) {
				return nil, sale.ErrAmountOutOfRange
			}
			if err != nil {
				return nil, sale.ErrInvalidAmount
			}
			tender.AmountCents = amount
		}
		tenders = append(tenders, tender)
	}
	return tenders, nil
}

func toCreateSaleResponse(created *domain.Sale, duplicate bool) domain.CreateSaleResponse {
	return domain.CreateSaleResponse{
		ID:            created.ID,
		TotalCents:    created.TotalCents,
		PaidCents:     created.PaidCents,
		ChangeCents:   created.ChangeCents,
		PaymentMethod: created.PaymentMethod,
		Duplicate:     duplicate,
	}
}
