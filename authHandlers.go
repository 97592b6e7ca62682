package main

import (
	"net/http"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/models"
	"github.com/emberpeak/countflow_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const sessionTokenTTL = 24 * time.Hour

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// loginHandler verifies credentials and issues an opaque token kept in
// redis. The same "invalid credentials" answer covers unknown usernames
// and wrong passwords.
func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
			return
		}

		principal, err := models.GetPrincipalByUsername(c.Request.Context(), req.Username)
		if err != nil || !utils.CheckPasswordHash(req.Password, principal.PasswordHash) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		token := uuid.NewString()
		if err := config.SetRedisObject("Token:"+token, principal, sessionTokenTTL); err != nil {
			config.LogError(config.GetLogger(), "authHandlers.go", "loginHandler", "SetRedisObject", principal.Username, err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":    token,
			"role":     principal.Role,
			"store_id": principal.StoreId,
		})
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token != "" {
			if err := config.DeleteRedisKeys("Token:" + token); err != nil {
				config.LogError(config.GetLogger(), "authHandlers.go", "logoutHandler", "DeleteRedisKeys", nil, err)
			}
		}
		c.Status(http.StatusNoContent)
	}
}
