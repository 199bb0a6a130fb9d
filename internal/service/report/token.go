package report

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
	"collabhub/pkg/metrics"
)

const tokenBytes = 32

// newToken returns a fresh opaque token and the digest stored for it.
func newToken() (token, hash string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, HashToken(token), nil
}

// HashToken is the at-rest form of a token.
func HashToken(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue creates a pending report for taskID and returns it with the
// plaintext token and public URL. The token is not retrievable later.
func (s *Service) Issue(ctx context.Context, taskID int64, email, name string) (*model.ProgressReport, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperr.Invalid("reporter_email", "must not be empty")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Invalid("reporter_email", "must be a valid address")
	}
	if _, err := s.tasks.GetTask(ctx, taskID); err != nil {
		return nil, apperr.Persistence("get task", err)
	}

	token, hash, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	r := &model.ProgressReport{
		TaskID:         taskID,
		ReporterName:   strings.TrimSpace(name),
		ReporterEmail:  email,
		Status:         model.ReportPending,
		TokenHash:      hash,
		TokenExpiresAt: now.Add(s.cfg.TokenTTL),
	}
	if err := s.store.Create(ctx, r); err != nil {
		metrics.IncrementReportEvent("issue", "error")
		return nil, apperr.Persistence("create report", err)
	}
	metrics.IncrementReportEvent("issue", "ok")

	r.ReportToken = token
	r.URL = s.URL(token)
	s.logger.Info("Progress report token issued",
		zap.Int64("report_id", r.ID),
		zap.Int64("task_id", taskID),
		zap.Time("expires_at", r.TokenExpiresAt),
	)
	return r, nil
}

// Regenerate replaces the token and resets the expiry on an unsubmitted
// report. It also lifts a deactivation.
func (s *Service) Regenerate(ctx context.Context, reportID int64) (*model.ProgressReport, error) {
	token, hash, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	r, applied, err := s.store.ReplaceToken(ctx, reportID, hash, now.Add(s.cfg.TokenTTL), now)
	if err != nil {
		return nil, apperr.Persistence("replace token", err)
	}
	if !applied {
		return nil, s.explainUnsubmittedGuard(ctx, reportID)
	}

	r.ReportToken = token
	r.URL = s.URL(token)
	s.logger.Info("Progress report token regenerated", zap.Int64("report_id", reportID))
	return r, nil
}

// Deactivate makes the current token unusable immediately.
func (s *Service) Deactivate(ctx context.Context, reportID int64) (*model.ProgressReport, error) {
	r, applied, err := s.store.Deactivate(ctx, reportID, s.now())
	if err != nil {
		return nil, apperr.Persistence("deactivate report", err)
	}
	if !applied {
		return nil, s.explainUnsubmittedGuard(ctx, reportID)
	}
	s.logger.Info("Progress report token deactivated", zap.Int64("report_id", reportID))
	return r, nil
}

func (s *Service) explainUnsubmittedGuard(ctx context.Context, reportID int64) error {
	cur, err := s.store.GetByID(ctx, reportID)
	if err != nil {
		return apperr.Persistence("get report", err)
	}
	if cur.IsSubmitted {
		return apperr.ErrAlreadySubmitted
	}
	return apperr.Persistence("update report", errors.New("conditional write lost without a visible cause"))
}

// Validate looks the token up without consuming it.
func (s *Service) Validate(ctx context.Context, token string) (*model.ProgressReport, error) {
	r, err := s.lookup(ctx, token)
	if err == nil {
		err = usable(r, s.now())
	}
	metrics.IncrementReportEvent("validate", outcome(err))
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) lookup(ctx context.Context, token string) (*model.ProgressReport, error) {
	if token == "" {
		return nil, apperr.ErrNotFound
	}
	r, err := s.store.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		return nil, apperr.Persistence("get report", err)
	}
	return r, nil
}

// usable orders the checks NotFound, Expired, AlreadySubmitted. A
// deactivated token counts as expired.
func usable(r *model.ProgressReport, now time.Time) error {
	switch {
	case r == nil:
		return apperr.ErrNotFound
	case r.Expired(now):
		return apperr.ErrExpired
	case r.IsSubmitted:
		return apperr.ErrAlreadySubmitted
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrExpired):
		return "expired"
	case errors.Is(err, apperr.ErrAlreadySubmitted):
		return "already_submitted"
	}
	return "error"
}
