package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"collabhub/internal/handler"
	"collabhub/internal/notify"
	"collabhub/internal/repository/memstore"
	"collabhub/internal/service/escalation"
	"collabhub/internal/service/report"
	"collabhub/internal/service/rule"
	"collabhub/pkg/rbac"
	"collabhub/pkg/trace"
	"collabhub/pkg/util"
)

const testSecret = "router-test-secret"

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type env struct {
	router *Router
	db     *memstore.DB
	taskID int64
}

func newEnv(t *testing.T, ready map[string]Pinger) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	db := memstore.New()
	owner := db.PutUser(memstore.User{OrgID: 1, Name: "Olivia", Email: "olivia@example.com"})
	proj := db.PutProject(memstore.Project{OrgID: 1, OwnerID: &owner.ID, Title: "Launch"})
	due := time.Now().Add(-72 * time.Hour)
	task := db.PutTask(memstore.Task{ProjectID: proj.ID, AssigneeID: &owner.ID, Title: "Ship beta", DueDate: &due})

	sender := notify.NewLogSender(log)
	dispatcher := escalation.NewDispatcher(db.Directory(), sender, log)
	scheduler := escalation.NewScheduler(db.Rules(), db.Entities(), db.Logs(), db.States(), dispatcher, escalation.Config{}, log)
	reports := report.NewService(db.Reports(), db.Entities(), db.Directory(), sender, report.Config{FrontendBase: "https://app.example.com"}, log)

	h := Handlers{
		Rules:       handler.NewRuleHandler(rule.NewService(db.Rules(), log), log),
		Escalations: handler.NewEscalationHandler(scheduler, db.Logs(), log),
		Reports:     handler.NewReportHandler(reports, log),
	}
	return &env{router: NewRouter(h, testSecret, ready, log), db: db, taskID: task.ID}
}

func bearer(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := util.GenerateJWT(userID, role, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (e *env) do(t *testing.T, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	e.router.Engine.ServeHTTP(w, req)
	return w
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	e := newEnv(t, nil)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/readyz", "", nil).Code)

	up := newEnv(t, map[string]Pinger{"db": stubPinger{}})
	assert.Equal(t, http.StatusOK, up.do(t, http.MethodGet, "/readyz", "", nil).Code)

	down := newEnv(t, map[string]Pinger{
		"mq": PingerFunc(func(context.Context) error { return errors.New("connection closed") }),
	})
	w := down.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "mq_not_ready", decode(t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, nil)
	e.do(t, http.MethodGet, "/healthz", "", nil)
	w := e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}

func TestTraceHeader(t *testing.T) {
	e := newEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(trace.HeaderName, "trace-abc")
	w := httptest.NewRecorder()
	e.router.Engine.ServeHTTP(w, req)
	assert.Equal(t, "trace-abc", w.Header().Get(trace.HeaderName))

	w = e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.NotEmpty(t, w.Header().Get(trace.HeaderName))
}

func TestAdminRoutesRequireAuth(t *testing.T) {
	e := newEnv(t, nil)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/admin/rules", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/admin/rules", "Bearer garbage", nil).Code)

	user := bearer(t, 7, rbac.RoleUser)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/admin/rules", user, nil).Code)
	w := e.do(t, http.MethodPost, "/admin/rules", user, map[string]any{"name": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decode(t, w)["error"], rbac.PermissionWriteRule)
}

func TestRuleLifecycleAndTick(t *testing.T) {
	e := newEnv(t, nil)
	admin := bearer(t, 1, rbac.RoleAdmin)

	w := e.do(t, http.MethodPost, "/admin/rules", admin, map[string]any{
		"name":          "Overdue",
		"trigger_type":  "days_after_due",
		"trigger_value": 0,
		"action":        "notify_owner",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "trigger_value", decode(t, w)["field"])

	w = e.do(t, http.MethodPost, "/admin/rules", admin, map[string]any{
		"name":          "Overdue",
		"trigger_type":  "days_after_due",
		"trigger_value": 1,
		"action":        "notify_owner",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	ruleID := int64(decode(t, w)["id"].(float64))

	w = e.do(t, http.MethodPost, "/admin/escalations/tick", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["executed"])

	w = e.do(t, http.MethodPost, "/admin/escalations/tick", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["executed"])
	assert.EqualValues(t, 1, decode(t, w)["skipped"])

	w = e.do(t, http.MethodGet, "/admin/escalations/logs?status=executed", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["logs"], 1)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/admin/escalations/logs?status=bogus", admin, nil).Code)

	w = e.do(t, http.MethodPost, "/admin/rules/"+itoa(ruleID)+"/toggle", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inactive", decode(t, w)["status"])

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/admin/rules/"+itoa(ruleID), admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/admin/rules/"+itoa(ruleID), admin, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/admin/rules/abc", admin, nil).Code)
}

func TestReportFlow(t *testing.T) {
	e := newEnv(t, nil)
	reviewer := bearer(t, 42, rbac.RoleReviewer)

	w := e.do(t, http.MethodPost, "/admin/tasks/"+itoa(e.taskID)+"/reports", reviewer, map[string]any{
		"reporter_email": "partner@example.org",
		"reporter_name":  "Pat",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	issued := decode(t, w)
	token := issued["report_token"].(string)
	reportID := int64(issued["id"].(float64))
	require.NotEmpty(t, token)
	assert.Equal(t, "https://app.example.com/progress-report/"+token, issued["url"])

	w = e.do(t, http.MethodGet, "/progress-report/"+token, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode(t, w)
	assert.Equal(t, "Pat", view["reporter_name"])
	assert.NotContains(t, view, "reporter_email")

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/progress-report/nope", "", nil).Code)

	w = e.do(t, http.MethodPost, "/progress-report/"+token, "", map[string]any{"progress": 150})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/progress-report/"+token, "", map[string]any{"progress": 60, "comment": "on track"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "submitted", decode(t, w)["status"])

	task, ok := e.db.Task(e.taskID)
	require.True(t, ok)
	assert.Equal(t, 60, task.Progress)

	w = e.do(t, http.MethodPost, "/progress-report/"+token, "", map[string]any{"progress": 70})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/admin/reports/"+itoa(reportID)+"/regenerate", reviewer, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodPost, "/admin/reports/"+itoa(reportID)+"/review", reviewer, map[string]any{"status": "reviewed", "comment": "thanks"})
	require.Equal(t, http.StatusOK, w.Code)
	reviewed := decode(t, w)
	assert.Equal(t, "reviewed", reviewed["status"])
	assert.EqualValues(t, 42, reviewed["reviewer_id"])

	w = e.do(t, http.MethodPost, "/admin/reports/"+itoa(reportID)+"/review", reviewer, map[string]any{"status": "rejected"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/admin/tasks/"+itoa(e.taskID)+"/reports", reviewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["reports"], 1)
}

func TestDeactivatedTokenIsGone(t *testing.T) {
	e := newEnv(t, nil)
	admin := bearer(t, 1, rbac.RoleAdmin)

	w := e.do(t, http.MethodPost, "/admin/tasks/"+itoa(e.taskID)+"/reports", admin, map[string]any{
		"reporter_email": "partner@example.org",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	issued := decode(t, w)
	token := issued["report_token"].(string)
	reportID := int64(issued["id"].(float64))

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/admin/reports/"+itoa(reportID)+"/deactivate", admin, nil).Code)
	assert.Equal(t, http.StatusGone, e.do(t, http.MethodGet, "/progress-report/"+token, "", nil).Code)

	w = e.do(t, http.MethodPost, "/admin/reports/"+itoa(reportID)+"/regenerate", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	fresh := decode(t, w)["report_token"].(string)
	assert.NotEqual(t, token, fresh)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/progress-report/"+fresh, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/progress-report/"+token, "", nil).Code)
}

func TestOutboxRoutesAbsentWithoutAdminHandler(t *testing.T) {
	e := newEnv(t, nil)
	admin := bearer(t, 1, rbac.RoleAdmin)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/admin/outbox/replay?id=1", admin, nil).Code)
}
