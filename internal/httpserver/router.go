package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"collabhub/internal/handler"
	"collabhub/pkg/rbac"
)

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a plain function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type Handlers struct {
	Rules       *handler.RuleHandler
	Escalations *handler.EscalationHandler
	Reports     *handler.ReportHandler
	// Admin 仅在 outbox 启用时存在
	Admin *handler.AdminHandler
}

type Router struct {
	Engine *gin.Engine
}

// NewRouter builds the engine. ready maps a dependency name ("db", "mq") to
// its readiness probe; /readyz fails on the first probe that errors.
func NewRouter(h Handlers, jwtSecret string, ready map[string]Pinger, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), AccessLogMiddleware(logger))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for name, p := range ready {
			if err := p.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public: token 即凭证
	r.GET("/progress-report/:token", h.Reports.Validate)
	r.POST("/progress-report/:token", h.Reports.Submit)

	// Protected
	admin := r.Group("/admin")
	admin.Use(AuthMiddleware(jwtSecret))
	{
		admin.GET("/rules", RequirePermission(rbac.PermissionReadRule), h.Rules.List)
		admin.GET("/rules/:id", RequirePermission(rbac.PermissionReadRule), h.Rules.Get)
		admin.POST("/rules", RequirePermission(rbac.PermissionWriteRule), h.Rules.Create)
		admin.PATCH("/rules/:id", RequirePermission(rbac.PermissionWriteRule), h.Rules.Update)
		admin.DELETE("/rules/:id", RequirePermission(rbac.PermissionWriteRule), h.Rules.Delete)
		admin.POST("/rules/:id/toggle", RequirePermission(rbac.PermissionWriteRule), h.Rules.Toggle)

		admin.POST("/escalations/tick", RequirePermission(rbac.PermissionTriggerTick), h.Escalations.Tick)
		admin.GET("/escalations/logs", RequirePermission(rbac.PermissionReadLog), h.Escalations.ListLogs)

		admin.POST("/tasks/:id/reports", RequirePermission(rbac.PermissionIssueReport), h.Reports.Issue)
		admin.GET("/tasks/:id/reports", RequirePermission(rbac.PermissionIssueReport), h.Reports.ListByTask)
		admin.GET("/reports/:id", RequirePermission(rbac.PermissionIssueReport), h.Reports.Get)
		admin.POST("/reports/:id/regenerate", RequirePermission(rbac.PermissionIssueReport), h.Reports.Regenerate)
		admin.POST("/reports/:id/deactivate", RequirePermission(rbac.PermissionIssueReport), h.Reports.Deactivate)
		admin.POST("/reports/:id/review", RequirePermission(rbac.PermissionReviewReport), h.Reports.Review)

		if h.Admin != nil {
			admin.POST("/outbox/replay", RequirePermission(rbac.PermissionReplayOutbox), h.Admin.ReplayOutboxEvent)
			admin.POST("/outbox/replay-failed", RequirePermission(rbac.PermissionReplayOutbox), h.Admin.ReplayFailedEvents)
		}
	}

	return &Router{Engine: r}
}

// Server wraps the engine in an http.Server so it can be shut down gracefully.
func (r *Router) Server(port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
