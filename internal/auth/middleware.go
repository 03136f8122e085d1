package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"callconfirm/pkg/logger"
)

const bearerPrefix = "Bearer "

// RequireAccessToken authenticates the operator behind a bearer token. The operator is put on
// the request context and on the request logger; role checks belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		op, err := m.Authenticate(strings.TrimPrefix(raw, bearerPrefix), time.Now())
		if err != nil {
			logger.FromGin(c).Debug("token rejected", logger.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		l := logger.FromGin(c).With("operator_id", op.ID, "operator_role", op.Role)
		c.Set("logger", l)
		ctx := logger.With(WithOperator(c.Request.Context(), op), l)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshHandler trades a refresh token for a new pair.
func RefreshHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body refreshBody
		if err := c.ShouldBindJSON(&body); err != nil || body.RefreshToken == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
			return
		}
		pair, err := m.Refresh(body.RefreshToken, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("refresh rejected", logger.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.JSON(http.StatusOK, pair)
	}
}
