package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabhub/contracts/mq"
	"collabhub/internal/model"
	"collabhub/internal/repository/memstore"
	"collabhub/internal/service/escalation"
	"collabhub/pkg/outbox"
	"collabhub/pkg/trace"
)

// memOutbox commits a batch only when every event in it is accepted. failAt
// rejects the n-th event of the next batch, once.
type memOutbox struct {
	events []*outbox.Event
	failAt int
}

func (m *memOutbox) EnqueueBatch(_ context.Context, events []*outbox.Event) error {
	if m.failAt > 0 && len(events) >= m.failAt {
		m.failAt = 0
		return errors.New("db down")
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *memOutbox) emails(t *testing.T) []string {
	t.Helper()
	var out []string
	for _, e := range m.events {
		var p mq.NotificationCreatedPayload
		require.NoError(t, json.Unmarshal(e.Payload, &p))
		out = append(out, p.Email)
	}
	return out
}

func TestOutboxSender_OneEventPerRecipient(t *testing.T) {
	box := &memOutbox{}
	s := NewOutboxSender(box, zap.NewNop())
	ctx := trace.WithContext(context.Background(), "trace-123")

	err := s.Send(ctx, []model.Recipient{
		{UserID: 1, Email: "a@example.com"},
		{UserID: 2, Email: "b@example.com"},
	}, "subject", "body")
	require.NoError(t, err)
	require.Len(t, box.events, 2)

	e := box.events[1]
	assert.Equal(t, mq.RoutingNotificationCreated, e.RoutingKey)
	assert.Equal(t, outbox.StatusPending, e.Status)
	require.NotNil(t, e.AggregateID)
	assert.EqualValues(t, 2, *e.AggregateID)

	var payload mq.NotificationCreatedPayload
	require.NoError(t, json.Unmarshal(e.Payload, &payload))
	assert.Equal(t, "b@example.com", payload.Email)
	assert.Equal(t, "EMAIL", payload.Channel)
	assert.Equal(t, "trace-123", payload.TraceID)
	assert.Equal(t, "body", payload.Message)
}

func TestOutboxSender_EnqueueFailure(t *testing.T) {
	box := &memOutbox{failAt: 2}
	s := NewOutboxSender(box, zap.NewNop())

	err := s.Send(context.Background(), []model.Recipient{{UserID: 1}, {UserID: 2}}, "s", "b")
	require.Error(t, err)
	assert.Empty(t, box.events, "a failed batch must not leave earlier recipients queued")

	require.NoError(t, s.Send(context.Background(), []model.Recipient{{UserID: 1}, {UserID: 2}}, "s", "b"))
	assert.Len(t, box.events, 2)
}

func TestOutboxSender_FailedDispatchRetriedWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	db := memstore.New()
	assignee := db.PutUser(memstore.User{OrgID: 1, Name: "Ann", Email: "a@example.com"})
	stakeholder := db.PutUser(memstore.User{OrgID: 1, Name: "Sam", Email: "s@example.com"})
	proj := db.PutProject(memstore.Project{OrgID: 1, Title: "Launch", Progress: 100, Stakeholders: []int64{stakeholder.ID}})
	due := time.Now().Add(-26 * time.Hour)
	db.PutTask(memstore.Task{ProjectID: proj.ID, AssigneeID: &assignee.ID, Title: "Ship", DueDate: &due})
	require.NoError(t, db.Rules().Create(ctx, &model.EscalationRule{
		Name:         "overdue",
		TriggerType:  model.TriggerDaysAfterDue,
		TriggerValue: 1,
		Action:       model.ActionNotifyStakeholders,
		Status:       model.RuleActive,
	}))

	box := &memOutbox{failAt: 2}
	dispatcher := escalation.NewDispatcher(db.Directory(), NewOutboxSender(box, zap.NewNop()), zap.NewNop())
	sched := escalation.NewScheduler(db.Rules(), db.Entities(), db.Logs(), db.States(), dispatcher, escalation.Config{}, zap.NewNop())

	res, err := sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, box.events)

	res, err = sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Executed)
	assert.ElementsMatch(t, []string{"a@example.com", "s@example.com"}, box.emails(t))

	res, err = sched.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, box.events, 2)
}

func TestLogSender_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewLogSender(zap.NewNop()).Send(ctx, []model.Recipient{{UserID: 1}}, "s", "b")
	assert.ErrorIs(t, err, context.Canceled)
}
