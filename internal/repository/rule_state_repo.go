package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"collabhub/internal/model"
)

// RuleStateRepository stores the last evaluated state per (rule, entity).
type RuleStateRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewRuleStateRepository(db *pgxpool.Pool, logger *zap.Logger) *RuleStateRepository {
	return &RuleStateRepository{db: db, logger: logger}
}

func (r *RuleStateRepository) States(ctx context.Context, ruleID int64) ([]model.RuleState, error) {
	rows, err := r.db.Query(ctx, `
        SELECT rule_id, entity_kind, entity_id, below, cycle
        FROM escalation_rule_state
        WHERE rule_id = $1`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []model.RuleState
	for rows.Next() {
		var s model.RuleState
		if err := rows.Scan(&s.RuleID, &s.EntityKind, &s.EntityID, &s.Below, &s.Cycle); err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// SaveState upserts the state. A rule deleted mid-tick makes this a no-op.
func (r *RuleStateRepository) SaveState(ctx context.Context, s model.RuleState) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO escalation_rule_state (rule_id, entity_kind, entity_id, below, cycle, updated_at)
        SELECT $1, $2, $3, $4, $5, NOW()
        WHERE EXISTS (SELECT 1 FROM escalation_rules WHERE id = $1)
        ON CONFLICT (rule_id, entity_kind, entity_id)
        DO UPDATE SET below = EXCLUDED.below, cycle = EXCLUDED.cycle, updated_at = NOW()`,
		s.RuleID, s.EntityKind, s.EntityID, s.Below, s.Cycle,
	)
	if err != nil {
		r.logger.Error("Failed to save rule state",
			zap.Error(err),
			zap.Int64("rule_id", s.RuleID),
			zap.Int64("entity_id", s.EntityID),
		)
	}
	return err
}
