package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	appErrors "github.com/noah-isme/iut-admissions-api/pkg/errors"
)

const reminderKeyPrefix = "reminder:pending-docs:"

// Dashboard aggregates the administrator counters concurrently. When pending
// documents exceed the threshold the admin is reminded, at most once per
// login session.
func (s *ValidationService) Dashboard(ctx context.Context, adminID, sessionID string) (*models.AdminDashboard, error) {
	dashboard := &models.AdminDashboard{PendingThreshold: s.cfg.PendingThreshold}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := s.enrollments.CountByValidationStatus(gctx)
		if err != nil {
			return err
		}
		dashboard.Enrollments = counts
		dashboard.ValidationRate = counts.ValidationRate()
		return nil
	})
	g.Go(func() error {
		counts, err := s.documents.CountByStatus(gctx)
		if err != nil {
			return err
		}
		dashboard.Documents = counts
		return nil
	})
	g.Go(func() error {
		active, err := s.programs.CountActive(gctx)
		if err != nil {
			return err
		}
		dashboard.ActivePrograms = active
		return nil
	})
	g.Go(func() error {
		loads, err := s.programs.ListByLoad(gctx, s.cfg.ProgramLimit)
		if err != nil {
			return err
		}
		dashboard.Programs = loads
		return nil
	})
	g.Go(func() error {
		recent, _, err := s.enrollments.List(gctx, models.EnrollmentFilter{Page: 1, PageSize: s.cfg.RecentLimit})
		if err != nil {
			return err
		}
		dashboard.Recent = recent
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}

	if dashboard.Programs == nil {
		dashboard.Programs = []models.ProgramLoad{}
	}
	if dashboard.Recent == nil {
		dashboard.Recent = []models.EnrollmentListItem{}
	}
	dashboard.ReminderSent = s.remindPending(ctx, adminID, sessionID, dashboard.Documents.Pending)
	return dashboard, nil
}

func (s *ValidationService) remindPending(ctx context.Context, adminID, sessionID string, pending int) bool {
	if pending <= s.cfg.PendingThreshold || sessionID == "" || s.ledger == nil || s.notifier == nil {
		return false
	}
	first, err := s.ledger.MarkOnce(ctx, reminderKeyPrefix+sessionID, s.cfg.DedupTTL)
	if err != nil {
		s.logger.Warn("reminder ledger unavailable", zap.String("admin_id", adminID), zap.Error(err))
		return false
	}
	if !first {
		return false
	}
	if s.notifier.Create(ctx, PendingDocumentsReminderDraft(adminID, pending)) == nil {
		return false
	}
	if s.metrics != nil {
		s.metrics.ReminderSent()
	}
	return true
}
