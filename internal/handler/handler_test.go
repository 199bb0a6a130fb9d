package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
	"collabhub/internal/notify"
	"collabhub/internal/repository/memstore"
	"collabhub/internal/service/escalation"
	"collabhub/pkg/outbox"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperr.Invalid("progress", "out of range"), http.StatusBadRequest},
		{"not found", fmt.Errorf("get rule: %w", apperr.ErrNotFound), http.StatusNotFound},
		{"expired", apperr.ErrExpired, http.StatusGone},
		{"already submitted", apperr.ErrAlreadySubmitted, http.StatusConflict},
		{"not yet submitted", apperr.ErrNotYetSubmitted, http.StatusConflict},
		{"already reviewed", apperr.ErrAlreadyReviewed, http.StatusConflict},
		{"persistence", apperr.Persistence("list rules", errors.New("conn reset")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	respondError(c, zap.NewNop(), apperr.Persistence("list rules", errors.New("password=hunter2")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
}

type fakeReplayer struct {
	replayed []int64
	err      error
	batch    int
}

func (f *fakeReplayer) ReplayEvent(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	f.replayed = append(f.replayed, id)
	return nil
}

func (f *fakeReplayer) ReplayFailedEvents(_ context.Context, limit int) (int, error) {
	f.batch = limit
	return 3, f.err
}

func serveAdmin(h *AdminHandler, method, target string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/admin/outbox/replay", h.ReplayOutboxEvent)
	r.POST("/admin/outbox/replay-failed", h.ReplayFailedEvents)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestAdminHandler_ReplayOutboxEvent(t *testing.T) {
	rep := &fakeReplayer{}
	h := NewAdminHandler(rep, zap.NewNop())

	assert.Equal(t, http.StatusBadRequest, serveAdmin(h, http.MethodPost, "/admin/outbox/replay").Code)
	assert.Equal(t, http.StatusBadRequest, serveAdmin(h, http.MethodPost, "/admin/outbox/replay?id=x").Code)

	w := serveAdmin(h, http.MethodPost, "/admin/outbox/replay?id=9")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{9}, rep.replayed)

	rep.err = fmt.Errorf("%w: %d", outbox.ErrEventNotFound, 10)
	assert.Equal(t, http.StatusNotFound, serveAdmin(h, http.MethodPost, "/admin/outbox/replay?id=10").Code)

	rep.err = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, serveAdmin(h, http.MethodPost, "/admin/outbox/replay?id=11").Code)
}

func TestAdminHandler_ReplayFailedEvents(t *testing.T) {
	rep := &fakeReplayer{}
	h := NewAdminHandler(rep, zap.NewNop())

	w := serveAdmin(h, http.MethodPost, "/admin/outbox/replay-failed?limit=-4")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, rep.batch)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body["success_count"])

	serveAdmin(h, http.MethodPost, "/admin/outbox/replay-failed?limit=25")
	assert.Equal(t, 25, rep.batch)
}

func TestEscalationHandler_TickSurvivesClientDisconnect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := memstore.New()
	owner := db.PutUser(memstore.User{OrgID: 1, Name: "Ann", Email: "ann@example.com"})
	proj := db.PutProject(memstore.Project{OrgID: 1, Title: "Launch", Progress: 100})
	due := time.Now().Add(-26 * time.Hour)
	db.PutTask(memstore.Task{ProjectID: proj.ID, AssigneeID: &owner.ID, Title: "Ship", DueDate: &due})
	require.NoError(t, db.Rules().Create(context.Background(), &model.EscalationRule{
		Name:         "overdue",
		TriggerType:  model.TriggerDaysAfterDue,
		TriggerValue: 1,
		Action:       model.ActionNotifyOwner,
		Status:       model.RuleActive,
	}))

	// LogSender fails on a cancelled context
	d := escalation.NewDispatcher(db.Directory(), notify.NewLogSender(zap.NewNop()), zap.NewNop())
	sched := escalation.NewScheduler(db.Rules(), db.Entities(), db.Logs(), db.States(), d, escalation.Config{}, zap.NewNop())
	h := NewEscalationHandler(sched, db.Logs(), zap.NewNop()).WithTickTimeout(time.Minute)

	r := gin.New()
	r.POST("/admin/escalations/tick", h.Tick)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/escalations/tick", nil).WithContext(ctx))

	require.Equal(t, http.StatusOK, w.Code)
	var res escalation.TickResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Executed)
	assert.Equal(t, 0, res.Failed)
}
