package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabhub/internal/model"
	"collabhub/internal/service/escalation"
)

// LogLister reads the escalation log.
type LogLister interface {
	List(ctx context.Context, f model.LogFilter) ([]model.EscalationLog, error)
}

const defaultTickTimeout = 2 * time.Minute

type EscalationHandler struct {
	scheduler   *escalation.Scheduler
	logs        LogLister
	tickTimeout time.Duration
	logger      *zap.Logger
}

func NewEscalationHandler(scheduler *escalation.Scheduler, logs LogLister, logger *zap.Logger) *EscalationHandler {
	return &EscalationHandler{scheduler: scheduler, logs: logs, tickTimeout: defaultTickTimeout, logger: logger}
}

// WithTickTimeout bounds a manually triggered tick.
func (h *EscalationHandler) WithTickTimeout(d time.Duration) *EscalationHandler {
	if d > 0 {
		h.tickTimeout = d
	}
	return h
}

// Tick POST /admin/escalations/tick
// 手动触发一次调度，与定时 tick 共享 singleflight。
// 客户端断开不能取消被合并的定时 tick，所以脱离请求的取消，只保留超时。
func (h *EscalationHandler) Tick(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.tickTimeout)
	defer cancel()

	res, err := h.scheduler.Tick(ctx)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListLogs GET /admin/escalations/logs?rule_id=1&status=failed&limit=50
func (h *EscalationHandler) ListLogs(c *gin.Context) {
	var f model.LogFilter
	if s := c.Query("rule_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			badRequest(c, "invalid rule_id")
			return
		}
		f.RuleID = &id
	}
	if s := c.Query("status"); s != "" {
		switch st := model.LogStatus(s); st {
		case model.LogPending, model.LogExecuted, model.LogFailed:
			f.Status = st
		default:
			badRequest(c, "invalid status")
			return
		}
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	f.Limit = limit

	logs, err := h.logs.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
