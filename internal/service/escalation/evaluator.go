package escalation

import (
	"fmt"
	"math"
	"time"

	"collabhub/internal/model"
)

// Evaluation is the outcome of matching one rule against one entity.
type Evaluation struct {
	Matched       bool
	OccurrenceKey string
	// State is the state to remember for the pair. Nil when the trigger type
	// keeps no state.
	State *model.RuleState
	// StateChanged is true when State differs from the previous state.
	StateChanged bool
}

// Evaluate decides whether rule matches entity at now. It is a pure function
// of its inputs: prev is the last remembered state of the pair (nil if none).
//
// progress_below re-arms on rise: every transition from "not below" (or no
// history) to "below" opens a new cycle and a new occurrence key, so the rule
// fires once per fall below the threshold.
func Evaluate(rule model.EscalationRule, entity model.Entity, prev *model.RuleState, now time.Time) Evaluation {
	if entity.Completed {
		return Evaluation{State: prev}
	}

	switch rule.TriggerType {
	case model.TriggerDaysAfterDue:
		if entity.DueDate == nil {
			return Evaluation{}
		}
		overdue := floorDays(now.Sub(*entity.DueDate))
		if overdue < rule.TriggerValue {
			return Evaluation{}
		}
		return Evaluation{Matched: true, OccurrenceKey: occurrenceKey(rule, entity, fmt.Sprintf("after_due:%d", overdue))}

	case model.TriggerDaysBeforeDue:
		if entity.DueDate == nil {
			return Evaluation{}
		}
		remaining := floorDays(entity.DueDate.Sub(now))
		if remaining < 0 || remaining > rule.TriggerValue {
			return Evaluation{}
		}
		return Evaluation{Matched: true, OccurrenceKey: occurrenceKey(rule, entity, fmt.Sprintf("before_due:%d", remaining))}

	case model.TriggerProgressBelow:
		return evaluateProgressBelow(rule, entity, prev)
	}

	return Evaluation{}
}

func evaluateProgressBelow(rule model.EscalationRule, entity model.Entity, prev *model.RuleState) Evaluation {
	next := model.RuleState{
		RuleID:     rule.ID,
		EntityKind: entity.Kind,
		EntityID:   entity.ID,
	}
	if prev != nil {
		next.Below = prev.Below
		next.Cycle = prev.Cycle
	}

	below := entity.Progress < rule.TriggerValue
	if below && !next.Below {
		next.Cycle++
	}
	next.Below = below

	changed := prev == nil || prev.Below != next.Below || prev.Cycle != next.Cycle
	eval := Evaluation{State: &next, StateChanged: changed}
	if below {
		eval.Matched = true
		eval.OccurrenceKey = occurrenceKey(rule, entity, fmt.Sprintf("progress_below:%d", next.Cycle))
	}
	return eval
}

// occurrenceKey identifies one firing of rule against entity in one bucket.
func occurrenceKey(rule model.EscalationRule, entity model.Entity, bucket string) string {
	return fmt.Sprintf("%d:%s:%d:%s", rule.ID, entity.Kind, entity.ID, bucket)
}

// floorDays returns floor(d / 24h), negative for negative durations.
func floorDays(d time.Duration) int {
	return int(math.Floor(d.Hours() / 24))
}
