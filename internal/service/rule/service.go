package rule

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
)

// Store is the rule persistence contract. List is ordered by priority, then
// creation order.
type Store interface {
	List(ctx context.Context, status *model.RuleStatus) ([]model.EscalationRule, error)
	Get(ctx context.Context, id int64) (*model.EscalationRule, error)
	Create(ctx context.Context, r *model.EscalationRule) error
	Update(ctx context.Context, r *model.EscalationRule) error
	Delete(ctx context.Context, id int64) error
	ToggleStatus(ctx context.Context, id int64) (*model.EscalationRule, error)
}

type Service struct {
	store  Store
	logger *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

func (s *Service) List(ctx context.Context, status *model.RuleStatus) ([]model.EscalationRule, error) {
	if status != nil && !status.Valid() {
		return nil, apperr.Invalid("status", "must be active or inactive")
	}
	rules, err := s.store.List(ctx, status)
	if err != nil {
		return nil, apperr.Persistence("list rules", err)
	}
	return rules, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*model.EscalationRule, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperr.Persistence("get rule", err)
	}
	return r, nil
}

func (s *Service) Create(ctx context.Context, r model.EscalationRule) (*model.EscalationRule, error) {
	r.Name = strings.TrimSpace(r.Name)
	if r.Status == "" {
		r.Status = model.RuleActive
	}
	if err := Validate(r); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, &r); err != nil {
		return nil, apperr.Persistence("create rule", err)
	}

	s.logger.Info("Escalation rule created",
		zap.Int64("rule_id", r.ID),
		zap.String("trigger_type", string(r.TriggerType)),
		zap.String("action", string(r.Action)),
	)
	return &r, nil
}

// Update applies a partial update and validates the merged rule.
func (s *Service) Update(ctx context.Context, id int64, u model.RuleUpdate) (*model.EscalationRule, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, apperr.Persistence("get rule", err)
	}

	next := u.Apply(*cur)
	next.Name = strings.TrimSpace(next.Name)
	if err := Validate(next); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, &next); err != nil {
		return nil, apperr.Persistence("update rule", err)
	}
	return &next, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return apperr.Persistence("delete rule", err)
	}
	s.logger.Info("Escalation rule deleted", zap.Int64("rule_id", id))
	return nil
}

func (s *Service) ToggleStatus(ctx context.Context, id int64) (*model.EscalationRule, error) {
	r, err := s.store.ToggleStatus(ctx, id)
	if err != nil {
		return nil, apperr.Persistence("toggle rule", err)
	}
	s.logger.Info("Escalation rule toggled",
		zap.Int64("rule_id", id),
		zap.String("status", string(r.Status)),
	)
	return r, nil
}

// Validate checks a complete rule.
func Validate(r model.EscalationRule) error {
	switch {
	case r.Name == "":
		return apperr.Invalid("name", "must not be empty")
	case !r.TriggerType.Valid():
		return apperr.Invalid("trigger_type", "must be one of days_after_due, days_before_due, progress_below")
	case r.TriggerValue < 1:
		return apperr.Invalid("trigger_value", "must be at least 1")
	case r.TriggerType == model.TriggerProgressBelow && r.TriggerValue > 100:
		return apperr.Invalid("trigger_value", "percentage must not exceed 100")
	case !r.Action.Valid():
		return apperr.Invalid("action", "must be one of notify_owner, notify_stakeholders, escalate_to_manager")
	case !r.Status.Valid():
		return apperr.Invalid("status", "must be active or inactive")
	}
	return nil
}
