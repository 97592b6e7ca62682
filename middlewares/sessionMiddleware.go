package middlewares

import (
	"net/http"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/models"
	"github.com/emberpeak/countflow_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware resolves the opaque token issued at login into the
// authenticated principal. Tokens live in redis under "Token:<token>"; the
// principal snapshot is cached alongside so warm requests skip the DB.
// Requests without a token pass through anonymous; route guards decide
// what anonymous callers may reach.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		var principal models.Principal
		exists, err := config.GetRedisObject("Token:"+token, &principal)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetPrincipalIdInContext(c.Request.Context(), principal.ID)
		ctx = utils.SetPrincipalRoleInContext(ctx, string(principal.Role))
		if principal.StoreId != nil {
			ctx = utils.SetStoreIdInContext(ctx, *principal.StoreId)
		}
		ctx = utils.SetClientIpInContext(ctx, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireAuth rejects anonymous requests.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetPrincipalIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireManagement rejects requests from non-management principals.
func RequireManagement() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := utils.GetPrincipalRoleFromContext(c.Request.Context())
		if !ok || !models.PrincipalRole(role).IsManagement() {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects everyone but admin and manager principals.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := utils.GetPrincipalRoleFromContext(c.Request.Context())
		if !ok || !models.PrincipalRole(role).IsAdmin() {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireStoreRole rejects requests from principals without store scope.
func RequireStoreRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := utils.GetPrincipalRoleFromContext(c.Request.Context())
		if !ok || models.PrincipalRole(role) != models.PrincipalRoleStore {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}
