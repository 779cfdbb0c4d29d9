package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

// JWTAuth authenticates the bearer token and stores the workflow actor on the context.
// The token may also come from the token query parameter, for websocket clients.
func JWTAuth(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string
		if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization is required"})
			return
		}

		claims, err := issuer.Parse(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		actor, err := claims.Actor()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		workflow.SetActor(c, actor)
		c.Set("user_id", actor.UserID.String())
		c.Next()
	}
}
