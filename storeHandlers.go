package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/models"
	"github.com/emberpeak/countflow_backend/utils"
	"github.com/emberpeak/countflow_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// respondWorkflowError maps the error taxonomy onto HTTP. Conflicts and an
// unreachable snapshot provider are the only retryable answers.
func respondWorkflowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrorInvalidState), errors.Is(err, utils.ErrorNothingToCount):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "retryable": false})
	case errors.Is(err, utils.ErrorConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, utils.ErrorUpstreamUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// parseQuantities converts the request's string quantities to decimals so
// clients never round through float64.
func parseQuantities(raw map[string]string) (map[string]decimal.Decimal, error) {
	quantities := make(map[string]decimal.Decimal, len(raw))
	for variationId, value := range raw {
		qty, err := decimal.NewFromString(value)
		if err != nil {
			return nil, err
		}
		quantities[variationId] = qty
	}
	return quantities, nil
}

type generateSessionRequest struct {
	EmployeeName string `json:"employee_name" binding:"required"`
}

func generateSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "employee_name is required"})
			return
		}

		storeId, ok := utils.GetStoreIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "generateCountSession")
		defer span.End()

		session, err := workflow.GenerateCountSession(ctx, storeId, req.EmployeeName)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		if body, ok := storeSessionResponse(c, session.ID); ok {
			c.JSON(http.StatusOK, body)
		}
	}
}

func currentSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, ok := utils.GetStoreIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		draft, err := models.GetDraftForStore(db, storeId)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		if body, ok := storeSessionResponse(c, draft.ID); ok {
			c.JSON(http.StatusOK, body)
		}
	}
}

func storeSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathId(c, "id")
		if !ok {
			return
		}
		if body, ok := storeSessionResponse(c, sessionId); ok {
			c.JSON(http.StatusOK, body)
		}
	}
}

// storeSessionResponse builds the blind store view: session metadata plus
// lines without expected quantities. On error the response is already
// written and ok is false.
func storeSessionResponse(c *gin.Context, sessionId int) (gin.H, bool) {
	session, lines, err := workflow.GetStoreSessionLines(c.Request.Context(), sessionId)
	if err != nil {
		respondWorkflowError(c, err)
		return nil, false
	}
	return gin.H{
		"session": gin.H{
			"id":               session.ID,
			"store_id":         session.StoreId,
			"status":           session.Status,
			"employee_name":    session.EmployeeName,
			"includes_recount": session.IncludesRecount,
			"generated_at":     session.GeneratedAt,
			"draft_saved_at":   session.DraftSavedAt,
			"submitted_at":     session.SubmittedAt,
		},
		"lines": lines,
	}, true
}

type quantitiesRequest struct {
	Quantities map[string]string `json:"quantities" binding:"required"`
}

func saveDraftHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req quantitiesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quantities are required"})
			return
		}
		quantities, err := parseQuantities(req.Quantities)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity: " + err.Error()})
			return
		}

		session, err := workflow.SaveDraft(c.Request.Context(), sessionId, quantities)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		if err := models.RecordSessionAudit(db, models.AuditActionSessionDraftSaved, session.StoreId, session.ID, map[string]interface{}{
			"entry_count": len(quantities),
		}); err != nil {
			config.LogError(config.GetLogger(), "storeHandlers.go", "saveDraftHandler", "RecordSessionAudit", session.ID, err)
		}

		c.JSON(http.StatusOK, gin.H{
			"session_id":     session.ID,
			"status":         session.Status,
			"draft_saved_at": session.DraftSavedAt,
		})
	}
}

func submitSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req quantitiesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "quantities are required"})
			return
		}
		quantities, err := parseQuantities(req.Quantities)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity: " + err.Error()})
			return
		}

		ctx, span := tracer.Start(c.Request.Context(), "submitCountSession")
		defer span.End()

		session, _, outcome, err := workflow.SubmitSession(ctx, sessionId, quantities)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		// Blind response: no variances, only whether a recount is pending.
		c.JSON(http.StatusOK, gin.H{
			"session_id":     session.ID,
			"status":         session.Status,
			"submitted_at":   session.SubmittedAt,
			"recount_needed": !outcome.Stable && outcome.Rounds > 0,
		})
	}
}
