package model

import "time"

type EntityKind string

const (
	EntityTask    EntityKind = "task"
	EntityProject EntityKind = "project"
)

// Entity is a read-only snapshot of a task or project as seen by the
// evaluator and the dispatcher.
type Entity struct {
	Kind       EntityKind `json:"kind"`
	ID         int64      `json:"id"`
	Title      string     `json:"title"`
	ProjectID  int64      `json:"project_id"`
	OrgID      int64      `json:"org_id"`
	AssigneeID *int64     `json:"assignee_id,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	Progress   int        `json:"progress"`
	Status     string     `json:"status"`
	Completed  bool       `json:"completed"`
}

// RuleState is the last evaluated state of one (rule, entity) pair. Only
// progress_below rules use it today.
type RuleState struct {
	RuleID     int64      `json:"rule_id"`
	EntityKind EntityKind `json:"entity_kind"`
	EntityID   int64      `json:"entity_id"`
	Below      bool       `json:"below"`
	Cycle      int        `json:"cycle"`
}

// Recipient is a principal a notification is addressed to.
type Recipient struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}
