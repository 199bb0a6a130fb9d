package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabhub/internal/model"
)

var evalNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func dueIn(d time.Duration) *time.Time {
	t := evalNow.Add(d)
	return &t
}

func TestEvaluate_DaysAfterDue(t *testing.T) {
	rule := model.EscalationRule{ID: 7, TriggerType: model.TriggerDaysAfterDue, TriggerValue: 2}

	tests := []struct {
		name    string
		due     *time.Time
		done    bool
		matched bool
		key     string
	}{
		{name: "no due date", due: nil},
		{name: "not yet due", due: dueIn(3 * time.Hour)},
		{name: "one day over", due: dueIn(-30 * time.Hour)},
		{name: "just under two days", due: dueIn(-47*time.Hour - 59*time.Minute)},
		{name: "exactly two days", due: dueIn(-48 * time.Hour), matched: true, key: "7:task:1:after_due:2"},
		{name: "three and a half days", due: dueIn(-84 * time.Hour), matched: true, key: "7:task:1:after_due:3"},
		{name: "completed never matches", due: dueIn(-200 * time.Hour), done: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entity := model.Entity{Kind: model.EntityTask, ID: 1, DueDate: tt.due, Completed: tt.done}
			got := Evaluate(rule, entity, nil, evalNow)
			assert.Equal(t, tt.matched, got.Matched)
			assert.Equal(t, tt.key, got.OccurrenceKey)
			assert.Nil(t, got.State)
		})
	}
}

func TestEvaluate_DaysAfterDue_SameBucketSameKey(t *testing.T) {
	rule := model.EscalationRule{ID: 1, TriggerType: model.TriggerDaysAfterDue, TriggerValue: 1}
	entity := model.Entity{Kind: model.EntityTask, ID: 9, DueDate: dueIn(-25 * time.Hour)}

	first := Evaluate(rule, entity, nil, evalNow)
	later := Evaluate(rule, entity, nil, evalNow.Add(20*time.Hour))
	nextDay := Evaluate(rule, entity, nil, evalNow.Add(24*time.Hour))

	require.True(t, first.Matched)
	assert.Equal(t, first.OccurrenceKey, later.OccurrenceKey)
	assert.NotEqual(t, first.OccurrenceKey, nextDay.OccurrenceKey)
}

func TestEvaluate_DaysBeforeDue(t *testing.T) {
	rule := model.EscalationRule{ID: 3, TriggerType: model.TriggerDaysBeforeDue, TriggerValue: 2}

	tests := []struct {
		name    string
		due     *time.Time
		matched bool
		key     string
	}{
		{name: "far away", due: dueIn(5 * 24 * time.Hour)},
		{name: "just inside window", due: dueIn(2*24*time.Hour + time.Hour), matched: true, key: "3:project:4:before_due:2"},
		{name: "due later today", due: dueIn(time.Hour), matched: true, key: "3:project:4:before_due:0"},
		{name: "already past due", due: dueIn(-time.Minute)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entity := model.Entity{Kind: model.EntityProject, ID: 4, DueDate: tt.due}
			got := Evaluate(rule, entity, nil, evalNow)
			assert.Equal(t, tt.matched, got.Matched)
			assert.Equal(t, tt.key, got.OccurrenceKey)
		})
	}
}

func TestEvaluate_ProgressBelowRearmsOnRise(t *testing.T) {
	rule := model.EscalationRule{ID: 5, TriggerType: model.TriggerProgressBelow, TriggerValue: 50}
	task := model.Entity{Kind: model.EntityTask, ID: 2, Progress: 30}

	first := Evaluate(rule, task, nil, evalNow)
	require.True(t, first.Matched)
	assert.True(t, first.StateChanged)
	assert.Equal(t, "5:task:2:progress_below:1", first.OccurrenceKey)

	// still low: same key, nothing to persist
	again := Evaluate(rule, task, first.State, evalNow)
	assert.True(t, again.Matched)
	assert.False(t, again.StateChanged)
	assert.Equal(t, first.OccurrenceKey, again.OccurrenceKey)

	task.Progress = 70
	risen := Evaluate(rule, task, again.State, evalNow)
	assert.False(t, risen.Matched)
	assert.True(t, risen.StateChanged)
	assert.False(t, risen.State.Below)

	task.Progress = 20
	fallen := Evaluate(rule, task, risen.State, evalNow)
	require.True(t, fallen.Matched)
	assert.Equal(t, "5:task:2:progress_below:2", fallen.OccurrenceKey)
}

func TestEvaluate_ProgressAtThresholdDoesNotMatch(t *testing.T) {
	rule := model.EscalationRule{ID: 5, TriggerType: model.TriggerProgressBelow, TriggerValue: 50}
	got := Evaluate(rule, model.Entity{Kind: model.EntityTask, ID: 2, Progress: 50}, nil, evalNow)
	assert.False(t, got.Matched)
	require.NotNil(t, got.State)
	assert.Equal(t, 0, got.State.Cycle)
}

func TestEvaluate_CompletedKeepsState(t *testing.T) {
	rule := model.EscalationRule{ID: 5, TriggerType: model.TriggerProgressBelow, TriggerValue: 50}
	prev := &model.RuleState{RuleID: 5, EntityKind: model.EntityTask, EntityID: 2, Below: true, Cycle: 3}

	got := Evaluate(rule, model.Entity{Kind: model.EntityTask, ID: 2, Progress: 10, Completed: true}, prev, evalNow)
	assert.False(t, got.Matched)
	assert.False(t, got.StateChanged)
	assert.Equal(t, prev, got.State)
}
