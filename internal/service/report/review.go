package report

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
	"collabhub/pkg/metrics"
)

// Review moves a submitted report to reviewed or rejected. Reviews are
// single-shot unless AllowReviewRevision is set.
func (s *Service) Review(ctx context.Context, reportID int64, d model.ReviewDecision) (*model.ProgressReport, error) {
	if d.Status != model.ReportReviewed && d.Status != model.ReportRejected {
		return nil, apperr.Invalid("status", "must be reviewed or rejected")
	}
	if d.ReviewerID <= 0 {
		return nil, apperr.Invalid("reviewer_id", "must be set")
	}
	d.Comment = strings.TrimSpace(d.Comment)

	r, applied, err := s.store.Review(ctx, reportID, d, s.cfg.AllowReviewRevision, s.now())
	if err != nil {
		metrics.IncrementReportEvent("review", "error")
		return nil, apperr.Persistence("review report", err)
	}
	if !applied {
		err := s.explainReviewGuard(ctx, reportID)
		metrics.IncrementReportEvent("review", "rejected")
		return nil, err
	}
	metrics.IncrementReportEvent("review", "ok")

	s.logger.Info("Progress report reviewed",
		zap.Int64("report_id", reportID),
		zap.String("status", string(d.Status)),
		zap.Int64("reviewer_id", d.ReviewerID),
	)
	return r, nil
}

func (s *Service) explainReviewGuard(ctx context.Context, reportID int64) error {
	cur, err := s.store.GetByID(ctx, reportID)
	if err != nil {
		return apperr.Persistence("get report", err)
	}
	switch {
	case !cur.IsSubmitted:
		return apperr.ErrNotYetSubmitted
	case cur.Status != model.ReportSubmitted && !s.cfg.AllowReviewRevision:
		return apperr.ErrAlreadyReviewed
	}
	return apperr.Persistence("review report", errors.New("conditional write lost without a visible cause"))
}

// Get returns a report by id.
func (s *Service) Get(ctx context.Context, reportID int64) (*model.ProgressReport, error) {
	r, err := s.store.GetByID(ctx, reportID)
	if err != nil {
		return nil, apperr.Persistence("get report", err)
	}
	return r, nil
}

// ListByTask returns every report issued for a task, newest first.
func (s *Service) ListByTask(ctx context.Context, taskID int64) ([]model.ProgressReport, error) {
	reports, err := s.store.ListByTask(ctx, taskID)
	if err != nil {
		return nil, apperr.Persistence("list reports", err)
	}
	return reports, nil
}

// PurgeExpired deletes unsubmitted reports whose token expired or was
// deactivated more than PurgeGrace ago. It does not coordinate with the
// escalation scheduler.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.PurgeGrace)
	n, err := s.store.PurgeExpired(ctx, cutoff)
	if err != nil {
		metrics.IncrementReportEvent("purge", "error")
		return 0, apperr.Persistence("purge reports", err)
	}
	metrics.IncrementReportEvent("purge", "ok")
	if n > 0 {
		s.logger.Info("Purged expired progress reports",
			zap.Int64("count", n),
			zap.Time("cutoff", cutoff),
		)
	}
	return n, nil
}
