package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
	"collabhub/pkg/metrics"
)

type RuleRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewRuleRepository(db *pgxpool.Pool, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

const ruleColumns = `id, name, description, trigger_type, trigger_value, action, priority, status, created_at, updated_at`

func scanRule(row pgx.Row) (*model.EscalationRule, error) {
	var r model.EscalationRule
	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Description,
		&r.TriggerType,
		&r.TriggerValue,
		&r.Action,
		&r.Priority,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns rules ordered by priority, then id.
func (r *RuleRepository) List(ctx context.Context, status *model.RuleStatus) ([]model.EscalationRule, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "escalation_rules", time.Since(start)) }()

	query := `SELECT ` + ruleColumns + `
        FROM escalation_rules
        WHERE ($1::text IS NULL OR status = $1)
        ORDER BY priority ASC, id ASC`

	var filter *string
	if status != nil {
		s := string(*status)
		filter = &s
	}
	rows, err := r.db.Query(ctx, query, filter)
	if err != nil {
		r.logger.Error("Failed to list rules", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	rules := []model.EscalationRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) Get(ctx context.Context, id int64) (*model.EscalationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM escalation_rules WHERE id = $1`
	return scanRule(r.db.QueryRow(ctx, query, id))
}

func (r *RuleRepository) Create(ctx context.Context, rule *model.EscalationRule) error {
	query := `
        INSERT INTO escalation_rules (name, description, trigger_type, trigger_value, action, priority, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		rule.Name,
		rule.Description,
		rule.TriggerType,
		rule.TriggerValue,
		rule.Action,
		rule.Priority,
		rule.Status,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to insert rule", zap.Error(err), zap.String("name", rule.Name))
		return err
	}
	return nil
}

func (r *RuleRepository) Update(ctx context.Context, rule *model.EscalationRule) error {
	query := `
        UPDATE escalation_rules
        SET name = $2, description = $3, trigger_type = $4, trigger_value = $5,
            action = $6, priority = $7, status = $8, updated_at = NOW()
        WHERE id = $1
        RETURNING created_at, updated_at`
	err := r.db.QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.TriggerType,
		rule.TriggerValue,
		rule.Action,
		rule.Priority,
		rule.Status,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if err != nil {
		r.logger.Error("Failed to update rule", zap.Error(err), zap.Int64("rule_id", rule.ID))
		return err
	}
	return nil
}

// Delete removes the rule. Log rows keep their snapshot (rule_id SET NULL);
// rule state rows cascade.
func (r *RuleRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM escalation_rules WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete rule", zap.Error(err), zap.Int64("rule_id", id))
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *RuleRepository) ToggleStatus(ctx context.Context, id int64) (*model.EscalationRule, error) {
	query := `
        UPDATE escalation_rules
        SET status = CASE WHEN status = 'active' THEN 'inactive' ELSE 'active' END,
            updated_at = NOW()
        WHERE id = $1
        RETURNING ` + ruleColumns
	return scanRule(r.db.QueryRow(ctx, query, id))
}
