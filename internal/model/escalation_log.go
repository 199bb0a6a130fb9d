package model

import "time"

type LogStatus string

const (
	LogPending  LogStatus = "pending"
	LogExecuted LogStatus = "executed"
	LogFailed   LogStatus = "failed"
)

// EscalationLog is the audit and de-duplication record of one dispatch
// attempt. Rule name and action are snapshotted so the row survives rule
// deletion (RuleID becomes nil).
type EscalationLog struct {
	ID            int64      `json:"id"`
	RuleID        *int64     `json:"rule_id"`
	RuleName      string     `json:"rule_name"`
	EntityKind    EntityKind `json:"entity_kind"`
	EntityID      int64      `json:"entity_id"`
	TaskID        *int64     `json:"task_id,omitempty"`
	ProjectID     *int64     `json:"project_id,omitempty"`
	OccurrenceKey string     `json:"occurrence_key"`
	Action        Action     `json:"action"`
	Status        LogStatus  `json:"status"`
	ActionDetail  string     `json:"action_detail"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewPendingLog snapshots rule metadata for a matched (rule, entity) pair.
func NewPendingLog(rule EscalationRule, entity Entity, occurrenceKey string) *EscalationLog {
	ruleID := rule.ID
	log := &EscalationLog{
		RuleID:        &ruleID,
		RuleName:      rule.Name,
		EntityKind:    entity.Kind,
		EntityID:      entity.ID,
		OccurrenceKey: occurrenceKey,
		Action:        rule.Action,
		Status:        LogPending,
	}
	if entity.ProjectID != 0 {
		projectID := entity.ProjectID
		log.ProjectID = &projectID
	}
	if entity.Kind == EntityTask {
		taskID := entity.ID
		log.TaskID = &taskID
	}
	return log
}

// LogFilter narrows ListLogs. Zero values mean "any".
type LogFilter struct {
	RuleID *int64
	Status LogStatus
	Limit  int
}
