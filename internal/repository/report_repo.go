package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"collabhub/contracts/mq"
	"collabhub/internal/apperr"
	"collabhub/internal/model"
	"collabhub/pkg/outbox"
	"collabhub/pkg/trace"
)

type ReportRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

func NewReportRepository(db *pgxpool.Pool, outboxRepo *outbox.Repository, logger *zap.Logger) *ReportRepository {
	return &ReportRepository{db: db, outbox: outboxRepo, logger: logger}
}

const reportColumns = `id, task_id, reporter_name, reporter_email, progress, status, comment, attachment_urls,
    token_hash, token_expires_at, deactivated_at, is_submitted, submitted_at,
    reviewer_id, reviewer_comment, reviewed_at, created_at, updated_at`

func scanReport(row pgx.Row) (*model.ProgressReport, error) {
	var r model.ProgressReport
	err := row.Scan(
		&r.ID,
		&r.TaskID,
		&r.ReporterName,
		&r.ReporterEmail,
		&r.Progress,
		&r.Status,
		&r.Comment,
		&r.AttachmentURLs,
		&r.TokenHash,
		&r.TokenExpiresAt,
		&r.DeactivatedAt,
		&r.IsSubmitted,
		&r.SubmittedAt,
		&r.ReviewerID,
		&r.ReviewerComment,
		&r.ReviewedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// scanGuarded reads the RETURNING row of a conditional update. No row means
// the guard did not hold.
func scanGuarded(row pgx.Row) (*model.ProgressReport, bool, error) {
	r, err := scanReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (r *ReportRepository) Create(ctx context.Context, rep *model.ProgressReport) error {
	query := `
        INSERT INTO progress_reports (task_id, reporter_name, reporter_email, status, token_hash, token_expires_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		rep.TaskID,
		rep.ReporterName,
		rep.ReporterEmail,
		rep.Status,
		rep.TokenHash,
		rep.TokenExpiresAt,
	).Scan(&rep.ID, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperr.Invalid("token", "duplicate token digest")
		}
		r.logger.Error("Failed to insert progress report", zap.Error(err), zap.Int64("task_id", rep.TaskID))
		return err
	}
	return nil
}

func (r *ReportRepository) GetByID(ctx context.Context, id int64) (*model.ProgressReport, error) {
	rep, err := scanReport(r.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM progress_reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return rep, err
}

func (r *ReportRepository) GetByTokenHash(ctx context.Context, hash string) (*model.ProgressReport, error) {
	rep, err := scanReport(r.db.QueryRow(ctx, `SELECT `+reportColumns+` FROM progress_reports WHERE token_hash = $1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	return rep, err
}

func (r *ReportRepository) ListByTask(ctx context.Context, taskID int64) ([]model.ProgressReport, error) {
	rows, err := r.db.Query(ctx, `SELECT `+reportColumns+` FROM progress_reports WHERE task_id = $1 ORDER BY id DESC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := []model.ProgressReport{}
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *rep)
	}
	return reports, rows.Err()
}

// Submit flips is_submitted in a single guarded UPDATE and writes the
// report.submitted outbox event in the same transaction.
func (r *ReportRepository) Submit(ctx context.Context, tokenHash string, sub model.Submission, now time.Time) (*model.ProgressReport, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	attachments := sub.AttachmentURLs
	if attachments == nil {
		attachments = []string{}
	}
	rep, applied, err := scanGuarded(tx.QueryRow(ctx, `
        UPDATE progress_reports
        SET progress = $2, comment = $3, attachment_urls = $4,
            is_submitted = TRUE, status = 'submitted', submitted_at = $5, updated_at = $5
        WHERE token_hash = $1
          AND is_submitted = FALSE
          AND deactivated_at IS NULL
          AND token_expires_at >= $5
        RETURNING `+reportColumns,
		tokenHash, sub.Progress, sub.Comment, attachments, now,
	))
	if err != nil || !applied {
		return nil, false, err
	}

	err = outbox.InsertEventInTx(ctx, tx, r.outbox, "progress_report", &rep.ID, mq.RoutingReportSubmitted, mq.ReportSubmittedPayload{
		ReportID:    rep.ID,
		TaskID:      rep.TaskID,
		Progress:    sub.Progress,
		Reporter:    rep.ReporterEmail,
		TraceID:     trace.FromContext(ctx),
		SubmittedAt: now,
	})
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit submit: %w", err)
	}
	return rep, true, nil
}

func (r *ReportRepository) ReplaceToken(ctx context.Context, id int64, hash string, expiresAt, now time.Time) (*model.ProgressReport, bool, error) {
	return scanGuarded(r.db.QueryRow(ctx, `
        UPDATE progress_reports
        SET token_hash = $2, token_expires_at = $3, deactivated_at = NULL, updated_at = $4
        WHERE id = $1 AND is_submitted = FALSE
        RETURNING `+reportColumns,
		id, hash, expiresAt, now,
	))
}

func (r *ReportRepository) Deactivate(ctx context.Context, id int64, now time.Time) (*model.ProgressReport, bool, error) {
	return scanGuarded(r.db.QueryRow(ctx, `
        UPDATE progress_reports
        SET deactivated_at = COALESCE(deactivated_at, $2), updated_at = $2
        WHERE id = $1 AND is_submitted = FALSE
        RETURNING `+reportColumns,
		id, now,
	))
}

func (r *ReportRepository) Review(ctx context.Context, id int64, d model.ReviewDecision, allowRevision bool, now time.Time) (*model.ProgressReport, bool, error) {
	return scanGuarded(r.db.QueryRow(ctx, `
        UPDATE progress_reports
        SET status = $2, reviewer_id = $3, reviewer_comment = $4, reviewed_at = $5, updated_at = $5
        WHERE id = $1
          AND is_submitted = TRUE
          AND ($6 OR status = 'submitted')
        RETURNING `+reportColumns,
		id, d.Status, d.ReviewerID, d.Comment, now, allowRevision,
	))
}

// PurgeExpired deletes unsubmitted reports whose token expired or was
// deactivated before cutoff.
func (r *ReportRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
        DELETE FROM progress_reports
        WHERE is_submitted = FALSE
          AND (token_expires_at < $1 OR deactivated_at < $1)`, cutoff)
	if err != nil {
		r.logger.Error("Failed to purge expired reports", zap.Error(err))
		return 0, err
	}
	return tag.RowsAffected(), nil
}
