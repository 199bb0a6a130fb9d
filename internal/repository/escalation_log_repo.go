package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"collabhub/internal/model"
	"collabhub/pkg/metrics"
)

type EscalationLogRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewEscalationLogRepository(db *pgxpool.Pool, logger *zap.Logger) *EscalationLogRepository {
	return &EscalationLogRepository{db: db, logger: logger}
}

// TryBegin inserts a pending row for the occurrence. The partial unique index
// uq_escalation_logs_live_occurrence makes this an atomic check-then-insert:
// it returns false when a pending or executed row already holds the key.
func (r *EscalationLogRepository) TryBegin(ctx context.Context, log *model.EscalationLog) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("insert", "escalation_logs", time.Since(start)) }()

	query := `
        INSERT INTO escalation_logs
            (rule_id, rule_name, entity_kind, entity_id, task_id, project_id, occurrence_key, action, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending')
        ON CONFLICT (occurrence_key) WHERE status IN ('pending', 'executed') DO NOTHING
        RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		log.RuleID,
		log.RuleName,
		log.EntityKind,
		log.EntityID,
		log.TaskID,
		log.ProjectID,
		log.OccurrenceKey,
		log.Action,
	).Scan(&log.ID, &log.CreatedAt, &log.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("Failed to insert escalation log",
			zap.Error(err),
			zap.String("occurrence_key", log.OccurrenceKey),
		)
		return false, err
	}
	log.Status = model.LogPending
	return true, nil
}

// Finish moves a pending row to executed or failed. Rows already reaped stay
// failed.
func (r *EscalationLogRepository) Finish(ctx context.Context, id int64, status model.LogStatus, detail, errMsg string) error {
	query := `
        UPDATE escalation_logs
        SET status = $2, action_detail = $3, error_message = $4, updated_at = NOW()
        WHERE id = $1 AND status = 'pending'`
	tag, err := r.db.Exec(ctx, query, id, status, detail, errMsg)
	if err != nil {
		r.logger.Error("Failed to finish escalation log", zap.Error(err), zap.Int64("log_id", id))
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.Warn("Escalation log was no longer pending", zap.Int64("log_id", id))
	}
	return nil
}

func (r *EscalationLogRepository) FailStalePending(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	query := `
        UPDATE escalation_logs
        SET status = 'failed', error_message = $2, updated_at = NOW()
        WHERE status = 'pending' AND created_at < $1`
	tag, err := r.db.Exec(ctx, query, olderThan, reason)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// List returns rows newest first.
func (r *EscalationLogRepository) List(ctx context.Context, f model.LogFilter) ([]model.EscalationLog, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var status *string
	if f.Status != "" {
		s := string(f.Status)
		status = &s
	}

	query := `
        SELECT id, rule_id, rule_name, entity_kind, entity_id, task_id, project_id,
               occurrence_key, action, status, action_detail, error_message, created_at, updated_at
        FROM escalation_logs
        WHERE ($1::bigint IS NULL OR rule_id = $1)
          AND ($2::text IS NULL OR status = $2)
        ORDER BY created_at DESC, id DESC
        LIMIT $3`
	rows, err := r.db.Query(ctx, query, f.RuleID, status, limit)
	if err != nil {
		r.logger.Error("Failed to list escalation logs", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	logs := []model.EscalationLog{}
	for rows.Next() {
		var l model.EscalationLog
		if err := rows.Scan(
			&l.ID,
			&l.RuleID,
			&l.RuleName,
			&l.EntityKind,
			&l.EntityID,
			&l.TaskID,
			&l.ProjectID,
			&l.OccurrenceKey,
			&l.Action,
			&l.Status,
			&l.ActionDetail,
			&l.ErrorMessage,
			&l.CreatedAt,
			&l.UpdatedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
