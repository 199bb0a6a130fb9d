package memstore

import (
	"context"
	"sort"
	"time"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
)

type ReportStore struct {
	db *DB
}

func clone(r *model.ProgressReport) *model.ProgressReport {
	c := *r
	c.AttachmentURLs = append([]string(nil), r.AttachmentURLs...)
	return &c
}

func (s *ReportStore) Create(_ context.Context, r *model.ProgressReport) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, cur := range s.db.reports {
		if cur.TokenHash == r.TokenHash {
			return apperr.Invalid("token", "duplicate token digest")
		}
	}
	now := s.db.now()
	r.ID = s.db.nextID()
	r.CreatedAt, r.UpdatedAt = now, now
	s.db.reports[r.ID] = clone(r)
	return nil
}

func (s *ReportStore) GetByID(_ context.Context, id int64) (*model.ProgressReport, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.reports[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return clone(r), nil
}

func (s *ReportStore) GetByTokenHash(_ context.Context, hash string) (*model.ProgressReport, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if r := s.byHash(hash); r != nil {
		return clone(r), nil
	}
	return nil, apperr.ErrNotFound
}

func (s *ReportStore) ListByTask(_ context.Context, taskID int64) ([]model.ProgressReport, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.ProgressReport
	for _, r := range s.db.reports {
		if r.TaskID == taskID {
			out = append(out, *clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// Submit flips is_submitted when the token is still live. applied is false
// when no row satisfied the guard.
func (s *ReportStore) Submit(_ context.Context, tokenHash string, sub model.Submission, now time.Time) (*model.ProgressReport, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r := s.byHash(tokenHash)
	if r == nil || r.IsSubmitted || r.DeactivatedAt != nil || now.After(r.TokenExpiresAt) {
		return nil, false, nil
	}
	progress := sub.Progress
	r.Progress = &progress
	r.Comment = sub.Comment
	r.AttachmentURLs = append([]string(nil), sub.AttachmentURLs...)
	r.IsSubmitted = true
	r.Status = model.ReportSubmitted
	r.SubmittedAt = &now
	r.UpdatedAt = now
	return clone(r), true, nil
}

func (s *ReportStore) ReplaceToken(_ context.Context, id int64, hash string, expiresAt, now time.Time) (*model.ProgressReport, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.reports[id]
	if !ok || r.IsSubmitted {
		return nil, false, nil
	}
	r.TokenHash = hash
	r.TokenExpiresAt = expiresAt
	r.DeactivatedAt = nil
	r.UpdatedAt = now
	return clone(r), true, nil
}

func (s *ReportStore) Deactivate(_ context.Context, id int64, now time.Time) (*model.ProgressReport, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.reports[id]
	if !ok || r.IsSubmitted {
		return nil, false, nil
	}
	if r.DeactivatedAt == nil {
		r.DeactivatedAt = &now
	}
	r.UpdatedAt = now
	return clone(r), true, nil
}

func (s *ReportStore) Review(_ context.Context, id int64, d model.ReviewDecision, allowRevision bool, now time.Time) (*model.ProgressReport, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.reports[id]
	if !ok || !r.IsSubmitted {
		return nil, false, nil
	}
	if !allowRevision && r.Status != model.ReportSubmitted {
		return nil, false, nil
	}
	reviewer := d.ReviewerID
	r.Status = d.Status
	r.ReviewerID = &reviewer
	r.ReviewerComment = d.Comment
	r.ReviewedAt = &now
	r.UpdatedAt = now
	return clone(r), true, nil
}

// PurgeExpired deletes unsubmitted rows whose token died before cutoff.
func (s *ReportStore) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var n int64
	for id, r := range s.db.reports {
		if r.IsSubmitted {
			continue
		}
		dead := r.TokenExpiresAt.Before(cutoff) || (r.DeactivatedAt != nil && r.DeactivatedAt.Before(cutoff))
		if dead {
			delete(s.db.reports, id)
			n++
		}
	}
	return n, nil
}

func (s *ReportStore) byHash(hash string) *model.ProgressReport {
	for _, r := range s.db.reports {
		if r.TokenHash == hash {
			return r
		}
	}
	return nil
}
