package memstore

import (
	"context"
	"sort"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
)

type StateStore struct {
	db *DB
}

func (s *StateStore) States(_ context.Context, ruleID int64) ([]model.RuleState, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.RuleState
	for k, st := range s.db.states {
		if k.ruleID == ruleID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *StateStore) SaveState(_ context.Context, st model.RuleState) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if _, ok := s.db.rules[st.RuleID]; !ok {
		return nil
	}
	s.db.states[stateKey{st.RuleID, st.EntityKind, st.EntityID}] = st
	return nil
}

// EntityStore is the task/project read model.
type EntityStore struct {
	db *DB
}

// ListEligible returns open tasks and projects, ordered by kind then id. Due
// date triggers only see entities with a due date.
func (s *EntityStore) ListEligible(_ context.Context, trigger model.TriggerType) ([]model.Entity, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	needDue := trigger != model.TriggerProgressBelow
	var out []model.Entity
	for _, t := range s.db.tasks {
		if taskCompleted(t.Status) || (needDue && t.DueDate == nil) {
			continue
		}
		out = append(out, s.taskEntity(t))
	}
	for _, p := range s.db.projects {
		if projectCompleted(p.Status) || (needDue && p.DueDate == nil) {
			continue
		}
		out = append(out, projectEntity(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == model.EntityTask
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *EntityStore) GetTask(_ context.Context, id int64) (*model.Entity, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tasks[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	e := s.taskEntity(t)
	return &e, nil
}

func (s *EntityStore) UpdateProgress(_ context.Context, taskID int64, progress int) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tasks[taskID]
	if !ok {
		return apperr.ErrNotFound
	}
	t.Progress = progress
	s.db.tasks[taskID] = t
	return nil
}

func (s *EntityStore) taskEntity(t Task) model.Entity {
	return model.Entity{
		Kind:       model.EntityTask,
		ID:         t.ID,
		Title:      t.Title,
		ProjectID:  t.ProjectID,
		OrgID:      s.db.projects[t.ProjectID].OrgID,
		AssigneeID: t.AssigneeID,
		DueDate:    t.DueDate,
		Progress:   t.Progress,
		Status:     t.Status,
		Completed:  taskCompleted(t.Status),
	}
}

func projectEntity(p Project) model.Entity {
	return model.Entity{
		Kind:      model.EntityProject,
		ID:        p.ID,
		Title:     p.Title,
		ProjectID: p.ID,
		OrgID:     p.OrgID,
		DueDate:   p.DueDate,
		Progress:  p.Progress,
		Status:    p.Status,
		Completed: projectCompleted(p.Status),
	}
}

// DirectoryStore resolves users for notifications.
type DirectoryStore struct {
	db *DB
}

func (s *DirectoryStore) User(_ context.Context, userID int64) (*model.Recipient, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.recipient(userID), nil
}

func (s *DirectoryStore) ProjectOwner(_ context.Context, projectID int64) (*model.Recipient, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.projects[projectID]
	if !ok || p.OwnerID == nil {
		return nil, nil
	}
	return s.recipient(*p.OwnerID), nil
}

func (s *DirectoryStore) Stakeholders(_ context.Context, projectID int64) ([]model.Recipient, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.Recipient
	for _, id := range s.db.projects[projectID].Stakeholders {
		if r := s.recipient(id); r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *DirectoryStore) Admins(_ context.Context, orgID int64) ([]model.Recipient, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []model.Recipient
	for _, u := range s.db.users {
		if u.OrgID == orgID && u.Role == "admin" {
			out = append(out, model.Recipient{UserID: u.ID, Name: u.Name, Email: u.Email})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *DirectoryStore) recipient(id int64) *model.Recipient {
	u, ok := s.db.users[id]
	if !ok {
		return nil
	}
	return &model.Recipient{UserID: u.ID, Name: u.Name, Email: u.Email}
}
