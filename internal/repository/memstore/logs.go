package memstore

import (
	"context"
	"time"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
)

type LogStore struct {
	db *DB
}

// TryBegin inserts a pending row unless a pending or executed row already
// holds the occurrence key.
func (s *LogStore) TryBegin(_ context.Context, log *model.EscalationLog) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, l := range s.db.logs {
		if l.OccurrenceKey == log.OccurrenceKey && l.Status != model.LogFailed {
			return false, nil
		}
	}

	now := s.db.now()
	log.ID = s.db.nextID()
	log.Status = model.LogPending
	log.CreatedAt, log.UpdatedAt = now, now
	row := *log
	s.db.logs = append(s.db.logs, &row)
	return true, nil
}

// Finish moves a pending row to its terminal status.
func (s *LogStore) Finish(_ context.Context, id int64, status model.LogStatus, detail, errMsg string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, l := range s.db.logs {
		if l.ID != id {
			continue
		}
		if l.Status != model.LogPending {
			return nil
		}
		l.Status = status
		l.ActionDetail = detail
		l.ErrorMessage = errMsg
		l.UpdatedAt = s.db.now()
		return nil
	}
	return apperr.ErrNotFound
}

func (s *LogStore) FailStalePending(_ context.Context, olderThan time.Time, reason string) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for _, l := range s.db.logs {
		if l.Status == model.LogPending && l.CreatedAt.Before(olderThan) {
			l.Status = model.LogFailed
			l.ErrorMessage = reason
			l.UpdatedAt = s.db.now()
			n++
		}
	}
	return n, nil
}

// List returns rows newest first.
func (s *LogStore) List(_ context.Context, f model.LogFilter) ([]model.EscalationLog, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var out []model.EscalationLog
	for i := len(s.db.logs) - 1; i >= 0; i-- {
		l := s.db.logs[i]
		if f.RuleID != nil && (l.RuleID == nil || *l.RuleID != *f.RuleID) {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		out = append(out, *l)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
