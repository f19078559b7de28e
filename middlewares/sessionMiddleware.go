package middlewares

import (
	"context"
	"net/http"

	"bitbucket.org/mmdatafocus/audits_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware copies the caller's tenant and user identity into the
// request context. Identity verification happens upstream (API gateway);
// this service only scopes data access by business_id.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId := c.Request.Header.Get("business-id")
		if businessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business-id header is required"})
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), utils.ContextKeyBusinessId, businessId)
		if userName := c.Request.Header.Get("user-name"); userName != "" {
			ctx = context.WithValue(ctx, utils.ContextKeyUserName, userName)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
