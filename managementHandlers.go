package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/models"
	"github.com/emberpeak/countflow_backend/workflow"
	"github.com/gin-gonic/gin"
)

type groupRequest struct {
	Name        string `json:"name" binding:"required"`
	CampaignIds []int  `json:"campaign_ids" binding:"required"`
}

func listGroupsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := models.ListCountGroups(c.Request.Context())
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		campaigns, err := models.GetActiveCampaigns(c.Request.Context())
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"groups": rows, "campaigns": campaigns})
	}
}

func createGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req groupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and campaign_ids are required"})
			return
		}
		group, err := models.CreateCountGroup(c.Request.Context(), req.Name, req.CampaignIds)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusCreated, group)
	}
}

func updateGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		groupId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req groupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and campaign_ids are required"})
			return
		}
		group, err := models.UpdateCountGroup(c.Request.Context(), groupId, req.Name, req.CampaignIds)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, group)
	}
}

func deactivateGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		groupId, ok := pathId(c, "id")
		if !ok {
			return
		}
		group, err := models.DeactivateCountGroup(c.Request.Context(), groupId)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, group)
	}
}

func renumberGroupsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		changed, err := models.RenumberCountGroupPositions(c.Request.Context())
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"changed": changed})
	}
}

func rotationOverviewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := workflow.ListStoresWithRotation(c.Request.Context())
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"stores": rows})
	}
}

type setNextGroupRequest struct {
	GroupId int `json:"group_id" binding:"required"`
}

func setNextGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, ok := pathId(c, "storeId")
		if !ok {
			return
		}
		var req setNextGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "group_id is required"})
			return
		}
		state, err := workflow.SetStoreNextGroup(c.Request.Context(), storeId, req.GroupId)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, state)
	}
}

func createForcedCountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.NewStoreForcedCount
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store_id and reason are required"})
			return
		}
		forced, err := models.CreateForcedCount(c.Request.Context(), &req)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusCreated, forced)
	}
}

func listForcedCountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var storeId *int
		if v := c.Query("store_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid store_id"})
				return
			}
			storeId = &id
		}
		rows, err := models.ListPendingForcedCounts(c.Request.Context(), storeId)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"forced_counts": rows})
	}
}

func listSessionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, err := strconv.Atoi(c.Query("store_id"))
		if err != nil || storeId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "store_id query is required"})
			return
		}
		limit, _ := strconv.Atoi(c.Query("limit"))

		db := config.GetDB().WithContext(c.Request.Context())
		sessions, err := models.ListSessionsForStore(db, storeId, limit)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

func varianceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathId(c, "id")
		if !ok {
			return
		}
		session, rows, err := workflow.GetManagementVarianceLines(c.Request.Context(), sessionId)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session": session,
			"lines":   rows,
		})
	}
}

type unlockRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func unlockSessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId, ok := pathId(c, "id")
		if !ok {
			return
		}
		var req unlockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
			return
		}
		session, err := workflow.UnlockSession(c.Request.Context(), sessionId, req.Reason)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

type purgeRequest struct {
	SessionIds []int `json:"session_ids" binding:"required"`
}

func purgeSessionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req purgeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_ids are required"})
			return
		}
		purged, err := workflow.PurgeSessions(c.Request.Context(), req.SessionIds)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"purged": purged})
	}
}

func auditListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := models.AuditQuery{Action: c.Query("action")}
		if v := c.Query("store_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid store_id"})
				return
			}
			query.StoreId = &id
		}
		if v := c.Query("limit"); v != "" {
			query.Limit, _ = strconv.Atoi(v)
		}
		rows, err := models.ListAuditLogs(c.Request.Context(), query)
		if err != nil {
			respondWorkflowError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"audit": rows})
	}
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id" binding:"required"`
}

// outboxReplayHandler requeues a DEAD/FAILED outbox row for the dispatcher.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id is required"})
			return
		}

		db := config.GetDB()
		now := time.Now().UTC()
		result := db.WithContext(c.Request.Context()).
			Model(&models.PubSubMessageRecord{}).
			Where("id = ?", req.RecordId).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusFailed,
				"next_attempt_at":    &now,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			})
		if result.Error != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": result.Error.Error()})
			return
		}
		if result.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"record_id":       req.RecordId,
			"publish_status":  models.OutboxPublishStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}
