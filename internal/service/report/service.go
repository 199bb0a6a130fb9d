// Package report implements the token-gated external progress report flow:
// token issue and validation, the one-shot submission and the review step.
package report

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"collabhub/internal/model"
)

// Store persists progress reports. Every mutating method is a single
// conditional write; applied is false when the guard did not hold, and the
// caller re-reads the row to explain why.
type Store interface {
	Create(ctx context.Context, r *model.ProgressReport) error
	GetByID(ctx context.Context, id int64) (*model.ProgressReport, error)
	GetByTokenHash(ctx context.Context, hash string) (*model.ProgressReport, error)
	ListByTask(ctx context.Context, taskID int64) ([]model.ProgressReport, error)

	// Submit is guarded on is_submitted = false, not deactivated and not expired at now.
	Submit(ctx context.Context, tokenHash string, sub model.Submission, now time.Time) (r *model.ProgressReport, applied bool, err error)
	// ReplaceToken and Deactivate are guarded on is_submitted = false.
	ReplaceToken(ctx context.Context, id int64, hash string, expiresAt, now time.Time) (r *model.ProgressReport, applied bool, err error)
	Deactivate(ctx context.Context, id int64, now time.Time) (r *model.ProgressReport, applied bool, err error)
	// Review is guarded on is_submitted = true and, unless allowRevision, on
	// the report not having been reviewed yet.
	Review(ctx context.Context, id int64, d model.ReviewDecision, allowRevision bool, now time.Time) (r *model.ProgressReport, applied bool, err error)

	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tasks is the task read/write model.
type Tasks interface {
	GetTask(ctx context.Context, id int64) (*model.Entity, error)
	UpdateProgress(ctx context.Context, taskID int64, progress int) error
}

// Directory resolves the owner to notify after a submission.
type Directory interface {
	ProjectOwner(ctx context.Context, projectID int64) (*model.Recipient, error)
}

// Sender delivers one message to a set of recipients.
type Sender interface {
	Send(ctx context.Context, recipients []model.Recipient, subject, body string) error
}

type Config struct {
	// TokenTTL is how long an issued token stays usable. Default 24h.
	TokenTTL time.Duration
	// FrontendBase prefixes the public report URL.
	FrontendBase string
	// PurgeGrace keeps dead unsubmitted rows around this long before the sweep deletes them.
	PurgeGrace time.Duration
	// AllowReviewRevision lets a reviewed report be reviewed again.
	AllowReviewRevision bool
}

func (c Config) withDefaults() Config {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	c.FrontendBase = strings.TrimRight(c.FrontendBase, "/")
	return c
}

type Service struct {
	store  Store
	tasks  Tasks
	dir    Directory
	sender Sender
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

func NewService(store Store, tasks Tasks, dir Directory, sender Sender, cfg Config, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		tasks:  tasks,
		dir:    dir,
		sender: sender,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the wall clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// URL is the public link handed to the external reporter.
func (s *Service) URL(token string) string {
	return s.cfg.FrontendBase + "/progress-report/" + token
}
