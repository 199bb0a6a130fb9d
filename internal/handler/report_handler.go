package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabhub/internal/model"
	"collabhub/internal/service/report"
)

// ContextUserID is the gin context key holding the authenticated user id.
const ContextUserID = "user_id"

type ReportHandler struct {
	reports *report.Service
	logger  *zap.Logger
}

func NewReportHandler(reports *report.Service, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reports: reports, logger: logger}
}

// publicReport is what the external reporter sees. No reviewer data, no
// token digest.
type publicReport struct {
	ID             int64     `json:"id"`
	TaskID         int64     `json:"task_id"`
	ReporterName   string    `json:"reporter_name"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

func toPublic(r *model.ProgressReport) publicReport {
	return publicReport{
		ID:             r.ID,
		TaskID:         r.TaskID,
		ReporterName:   r.ReporterName,
		TokenExpiresAt: r.TokenExpiresAt,
	}
}

// Validate GET /progress-report/:token
// 只读校验，不消耗 token
func (h *ReportHandler) Validate(c *gin.Context) {
	r, err := h.reports.Validate(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toPublic(r))
}

// Submit POST /progress-report/:token
func (h *ReportHandler) Submit(c *gin.Context) {
	var sub model.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := h.reports.Submit(c.Request.Context(), c.Param("token"), sub)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       r.Status,
		"submitted_at": r.SubmittedAt,
	})
}

type issueRequest struct {
	ReporterEmail string `json:"reporter_email"`
	ReporterName  string `json:"reporter_name"`
}

// Issue POST /admin/tasks/:id/reports
func (h *ReportHandler) Issue(c *gin.Context) {
	taskID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := h.reports.Issue(c.Request.Context(), taskID, req.ReporterEmail, req.ReporterName)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// ListByTask GET /admin/tasks/:id/reports
func (h *ReportHandler) ListByTask(c *gin.Context) {
	taskID, ok := pathID(c, "id")
	if !ok {
		return
	}
	reports, err := h.reports.ListByTask(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// Get GET /admin/reports/:id
func (h *ReportHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.reports.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Regenerate POST /admin/reports/:id/regenerate
func (h *ReportHandler) Regenerate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.reports.Regenerate(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Deactivate POST /admin/reports/:id/deactivate
func (h *ReportHandler) Deactivate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.reports.Deactivate(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type reviewRequest struct {
	Status  model.ReportStatus `json:"status"`
	Comment string             `json:"comment"`
}

// Review POST /admin/reports/:id/review
// reviewer 取自 JWT
func (h *ReportHandler) Review(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := h.reports.Review(c.Request.Context(), id, model.ReviewDecision{
		Status:     req.Status,
		ReviewerID: c.GetInt64(ContextUserID),
		Comment:    req.Comment,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
