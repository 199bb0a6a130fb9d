package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabhub/internal/model"
	"collabhub/internal/service/rule"
)

type RuleHandler struct {
	rules  *rule.Service
	logger *zap.Logger
}

func NewRuleHandler(rules *rule.Service, logger *zap.Logger) *RuleHandler {
	return &RuleHandler{rules: rules, logger: logger}
}

// List GET /admin/rules?status=active
func (h *RuleHandler) List(c *gin.Context) {
	var status *model.RuleStatus
	if s := c.Query("status"); s != "" {
		rs := model.RuleStatus(s)
		status = &rs
	}
	rules, err := h.rules.List(c.Request.Context(), status)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// Get GET /admin/rules/:id
func (h *RuleHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.rules.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type createRuleRequest struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	TriggerType  model.TriggerType `json:"trigger_type"`
	TriggerValue int               `json:"trigger_value"`
	Action       model.Action      `json:"action"`
	Priority     int               `json:"priority"`
	Status       model.RuleStatus  `json:"status"`
}

// Create POST /admin/rules
func (h *RuleHandler) Create(c *gin.Context) {
	var req createRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := h.rules.Create(c.Request.Context(), model.EscalationRule{
		Name:         req.Name,
		Description:  req.Description,
		TriggerType:  req.TriggerType,
		TriggerValue: req.TriggerValue,
		Action:       req.Action,
		Priority:     req.Priority,
		Status:       req.Status,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// Update PATCH /admin/rules/:id
func (h *RuleHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req model.RuleUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := h.rules.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Delete DELETE /admin/rules/:id
func (h *RuleHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.rules.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Toggle POST /admin/rules/:id/toggle
func (h *RuleHandler) Toggle(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.rules.ToggleStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
