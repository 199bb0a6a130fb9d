package model

import "time"

type TriggerType string

const (
	TriggerDaysAfterDue  TriggerType = "days_after_due"
	TriggerDaysBeforeDue TriggerType = "days_before_due"
	TriggerProgressBelow TriggerType = "progress_below"
)

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerDaysAfterDue, TriggerDaysBeforeDue, TriggerProgressBelow:
		return true
	}
	return false
}

type Action string

const (
	ActionNotifyOwner        Action = "notify_owner"
	ActionNotifyStakeholders Action = "notify_stakeholders"
	ActionEscalateToManager  Action = "escalate_to_manager"
)

func (a Action) Valid() bool {
	switch a {
	case ActionNotifyOwner, ActionNotifyStakeholders, ActionEscalateToManager:
		return true
	}
	return false
}

type RuleStatus string

const (
	RuleActive   RuleStatus = "active"
	RuleInactive RuleStatus = "inactive"
)

func (s RuleStatus) Valid() bool {
	return s == RuleActive || s == RuleInactive
}

// EscalationRule is an admin-configured trigger condition plus the action to
// take when it matches. Lower Priority is evaluated first.
type EscalationRule struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	TriggerType  TriggerType `json:"trigger_type"`
	TriggerValue int         `json:"trigger_value"`
	Action       Action      `json:"action"`
	Priority     int         `json:"priority"`
	Status       RuleStatus  `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// RuleUpdate is a partial update; nil fields are left untouched.
type RuleUpdate struct {
	Name         *string      `json:"name"`
	Description  *string      `json:"description"`
	TriggerType  *TriggerType `json:"trigger_type"`
	TriggerValue *int         `json:"trigger_value"`
	Action       *Action      `json:"action"`
	Priority     *int         `json:"priority"`
	Status       *RuleStatus  `json:"status"`
}

// Apply returns a copy of r with the non-nil fields of u applied.
func (u RuleUpdate) Apply(r EscalationRule) EscalationRule {
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Description != nil {
		r.Description = *u.Description
	}
	if u.TriggerType != nil {
		r.TriggerType = *u.TriggerType
	}
	if u.TriggerValue != nil {
		r.TriggerValue = *u.TriggerValue
	}
	if u.Action != nil {
		r.Action = *u.Action
	}
	if u.Priority != nil {
		r.Priority = *u.Priority
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	return r
}
