package memstore

import (
	"context"
	"sort"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
)

type RuleStore struct {
	db *DB
}

func (s *RuleStore) List(_ context.Context, status *model.RuleStatus) ([]model.EscalationRule, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	out := make([]model.EscalationRule, 0, len(s.db.rules))
	for _, r := range s.db.rules {
		if status != nil && r.Status != *status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *RuleStore) Get(_ context.Context, id int64) (*model.EscalationRule, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.rules[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &r, nil
}

func (s *RuleStore) Create(_ context.Context, r *model.EscalationRule) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	now := s.db.now()
	r.ID = s.db.nextID()
	r.CreatedAt, r.UpdatedAt = now, now
	s.db.rules[r.ID] = *r
	return nil
}

func (s *RuleStore) Update(_ context.Context, r *model.EscalationRule) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cur, ok := s.db.rules[r.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = s.db.now()
	s.db.rules[r.ID] = *r
	return nil
}

// Delete removes the rule, detaches its log rows and drops its state.
func (s *RuleStore) Delete(_ context.Context, id int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.rules[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(s.db.rules, id)
	for _, l := range s.db.logs {
		if l.RuleID != nil && *l.RuleID == id {
			l.RuleID = nil
		}
	}
	for k := range s.db.states {
		if k.ruleID == id {
			delete(s.db.states, k)
		}
	}
	return nil
}

func (s *RuleStore) ToggleStatus(_ context.Context, id int64) (*model.EscalationRule, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.rules[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if r.Status == model.RuleActive {
		r.Status = model.RuleInactive
	} else {
		r.Status = model.RuleActive
	}
	r.UpdatedAt = s.db.now()
	s.db.rules[id] = r
	return &r, nil
}
