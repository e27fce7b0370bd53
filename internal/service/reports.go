package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/report"
	"tillbook/backend/internal/store"
)

// PreviewReport totals the open sales of a day without changing anything.
// An empty date means today in the business timezone.
func (s *Service) PreviewReport(ctx context.Context, date string, terminalID string) (domain.Report, error) {
	businessDate, err := s.businessDate(date, true)
	if err != nil {
		return domain.Report{}, err
	}
	terminalID = strings.TrimSpace(terminalID)

	open, err := s.repo.ListOpenSales(ctx, store.Scope{BusinessDate: businessDate, TerminalID: terminalID})
	if err != nil {
		return domain.Report{}, s.persistenceError("list open sales", err)
	}

	s.metrics.ReportPreviewed()
	return report.Preview(businessDate, terminalID, open, s.now().UTC()), nil
}

// CloseReport writes a Z report over the open sales of a day and locks them.
func (s *Service) CloseReport(ctx context.Context, date string, terminalID string) (domain.Report, error) {
	businessDate, err := s.businessDate(date, false)
	if err != nil {
		return domain.Report{}, err
	}
	terminalID = strings.TrimSpace(terminalID)
	closedBy := actorName(ctx)
	if closedBy == "" {
		closedBy = "system"
	}

	scope := store.Scope{BusinessDate: businessDate, TerminalID: terminalID}
	closed, err := s.repo.CloseReport(ctx, scope, closedBy, s.now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNothingToClose):
			return domain.Report{}, err
		case errors.Is(err, store.ErrConcurrentClose):
			s.metrics.CloseConflict()
			s.logger.Warn("z report close lost to a concurrent close",
				zap.String("business_date", businessDate),
				zap.String("terminal_id", terminalID),
			)
			return domain.Report{}, err
		default:
			return domain.Report{}, s.persistenceError("close report", err)
		}
	}

	if err := s.cache.SetReport(ctx, closed, reportCacheTTL); err != nil {
		s.logger.Warn("report cache write failed", zap.Int64("report_id", closed.ID), zap.Error(err))
	}
	s.metrics.ReportClosed()
	s.logger.Info("z report closed",
		zap.Int64("report_id", closed.ID),
		zap.String("business_date", closed.BusinessDate),
		zap.String("terminal_id", closed.TerminalID),
		zap.String("closed_by", closed.CreatedBy),
		zap.Int64("sales_count", closed.SalesCount),
		zap.Int64("total_cents", closed.TotalCents),
	)
	return *closed, nil
}

func (s *Service) GetReport(ctx context.Context, id int64) (domain.Report, error) {
	cached, found, err := s.cache.GetReport(ctx, id)
	if err != nil {
		s.logger.Warn("report cache read failed", zap.Int64("report_id", id), zap.Error(err))
	}
	if found {
		return *cached, nil
	}

	stored, err := s.repo.FindReportByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Report{}, err
		}
		return domain.Report{}, s.persistenceError("find report", err)
	}
	if err := s.cache.SetReport(ctx, stored, reportCacheTTL); err != nil {
		s.logger.Warn("report cache write failed", zap.Int64("report_id", id), zap.Error(err))
	}
	return *stored, nil
}

// ListReports returns Z reports newest first, at most store.MaxReportPage.
func (s *Service) ListReports(ctx context.Context, date string, terminalID string, limit int) ([]domain.Report, error) {
	filter := store.ReportFilter{TerminalID: strings.TrimSpace(terminalID), Limit: store.ClampLimit(limit)}
	if strings.TrimSpace(date) != "" {
		businessDate, err := s.businessDate(date, false)
		if err != nil {
			return nil, err
		}
		filter.BusinessDate = businessDate
	}

	reports, err := s.repo.ListReports(ctx, filter)
	if err != nil {
		return nil, s.persistenceError("list reports", err)
	}
	return reports, nil
}
