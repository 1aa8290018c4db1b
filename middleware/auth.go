package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/countdownstack/utils"
)

const (
	// ContextDashboardIDKey is the dashboard the bearer token grants access to.
	ContextDashboardIDKey = "dashboard_id"
	// ContextTokenKey stores the raw bearer token for revocation.
	ContextTokenKey = "dashboard_token"
	// ContextTokenExpiryKey stores the token's expiry time.
	ContextTokenExpiryKey = "dashboard_token_expiry"
)

// DashboardAuth parses a dashboard bearer token. With required=false a missing
// or unusable token lets the request through anonymously.
func DashboardAuth(secret string, required bool) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			if required {
				utils.AbortError(ctx, http.StatusUnauthorized, 40101, "authorization header missing")
				return
			}
			ctx.Next()
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		tokenString = strings.TrimSpace(tokenString)
		if !ok || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
			if required {
				utils.AbortError(ctx, http.StatusUnauthorized, 40102, "invalid authorization header format")
				return
			}
			ctx.Next()
			return
		}

		if utils.IsTokenBlacklisted(tokenString) {
			if required {
				utils.AbortError(ctx, http.StatusUnauthorized, 40104, "token revoked")
				return
			}
			ctx.Next()
			return
		}

		claims, err := utils.ParseDashboardToken(secret, tokenString)
		if err != nil {
			if required {
				utils.AbortError(ctx, http.StatusUnauthorized, 40105, "invalid token")
				return
			}
			ctx.Next()
			return
		}

		ctx.Set(ContextDashboardIDKey, claims.DashboardID)
		ctx.Set(ContextTokenKey, tokenString)
		if claims.ExpiresAt != nil {
			ctx.Set(ContextTokenExpiryKey, claims.ExpiresAt.Time)
		}
		ctx.Next()
	}
}

// AuthorizedFor reports whether the request carries a valid token for dashboardID.
func AuthorizedFor(ctx *gin.Context, dashboardID string) bool {
	id := ctx.GetString(ContextDashboardIDKey)
	return id != "" && id == dashboardID
}

// TokenFromContext returns the bearer token and its expiry set by DashboardAuth.
func TokenFromContext(ctx *gin.Context) (string, time.Time) {
	return ctx.GetString(ContextTokenKey), ctx.GetTime(ContextTokenExpiryKey)
}

// AdminRequired guards operational endpoints with a static X-Admin-Token.
// An empty configured token disables the endpoints.
func AdminRequired(token string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if token == "" {
			utils.AbortError(ctx, http.StatusForbidden, 40301, "admin endpoints disabled")
			return
		}
		got := ctx.GetHeader("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			utils.AbortError(ctx, http.StatusUnauthorized, 40106, "invalid admin token")
			return
		}
		ctx.Next()
	}
}
