package report

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
	"collabhub/pkg/logger"
	"collabhub/pkg/metrics"
)

const (
	maxCommentLen  = 4000
	maxAttachments = 20
)

// Submit records the external reporter's progress exactly once. The
// conditional write in the store is the only concurrency guard: of two racing
// calls one succeeds and the other gets ErrAlreadySubmitted.
//
// After the write commits, the owning task's progress is updated and the
// project owner notified. Failures there are logged and never undo the
// submission.
func (s *Service) Submit(ctx context.Context, token string, sub model.Submission) (*model.ProgressReport, error) {
	if err := validateSubmission(&sub); err != nil {
		metrics.IncrementReportEvent("submit", "invalid")
		return nil, err
	}

	if _, err := s.Validate(ctx, token); err != nil {
		metrics.IncrementReportEvent("submit", outcome(err))
		return nil, err
	}

	now := s.now()
	r, applied, err := s.store.Submit(ctx, HashToken(token), sub, now)
	if err != nil {
		metrics.IncrementReportEvent("submit", "error")
		return nil, apperr.Persistence("submit report", err)
	}
	if !applied {
		// lost the race or the token died in between
		cur, err := s.lookup(ctx, token)
		if err == nil {
			err = usable(cur, now)
		}
		if err == nil {
			err = apperr.ErrAlreadySubmitted
		}
		metrics.IncrementReportEvent("submit", outcome(err))
		return nil, err
	}
	metrics.IncrementReportEvent("submit", "ok")

	log := logger.WithTrace(ctx, s.logger)
	log.Info("Progress report submitted",
		zap.Int64("report_id", r.ID),
		zap.Int64("task_id", r.TaskID),
		zap.Int("progress", sub.Progress),
	)

	s.afterSubmit(context.WithoutCancel(ctx), log, r)
	return r, nil
}

func (s *Service) afterSubmit(ctx context.Context, log *zap.Logger, r *model.ProgressReport) {
	if err := s.tasks.UpdateProgress(ctx, r.TaskID, *r.Progress); err != nil {
		log.Error("Failed to update task progress after submission",
			zap.Int64("report_id", r.ID),
			zap.Int64("task_id", r.TaskID),
			zap.Error(err),
		)
	}

	task, err := s.tasks.GetTask(ctx, r.TaskID)
	if err != nil {
		log.Error("Failed to load task for owner notification", zap.Int64("task_id", r.TaskID), zap.Error(err))
		return
	}
	owner, err := s.dir.ProjectOwner(ctx, task.ProjectID)
	if err != nil {
		log.Error("Failed to resolve project owner", zap.Int64("project_id", task.ProjectID), zap.Error(err))
		return
	}
	if owner == nil {
		log.Info("Project has no owner to notify", zap.Int64("project_id", task.ProjectID))
		return
	}

	subject := fmt.Sprintf("Progress report received for %q", task.Title)
	body := fmt.Sprintf("%s <%s> reported %d%% progress on %q.\n%s\n",
		r.ReporterName, r.ReporterEmail, *r.Progress, task.Title, r.Comment)
	if err := s.sender.Send(ctx, []model.Recipient{*owner}, subject, body); err != nil {
		log.Error("Failed to notify project owner",
			zap.Int64("report_id", r.ID),
			zap.Int64("owner_id", owner.UserID),
			zap.Error(err),
		)
	}
}

func validateSubmission(sub *model.Submission) error {
	if sub.Progress < 0 || sub.Progress > 100 {
		return apperr.Invalid("progress", "must be between 0 and 100")
	}
	sub.Comment = strings.TrimSpace(sub.Comment)
	if len(sub.Comment) > maxCommentLen {
		return apperr.Invalid("comment", fmt.Sprintf("must be at most %d characters", maxCommentLen))
	}
	if len(sub.AttachmentURLs) > maxAttachments {
		return apperr.Invalid("attachment_urls", fmt.Sprintf("at most %d attachments", maxAttachments))
	}
	for _, raw := range sub.AttachmentURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperr.Invalid("attachment_urls", fmt.Sprintf("%q is not an http(s) URL", raw))
		}
	}
	return nil
}
