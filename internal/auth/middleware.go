package auth

import (
	"net/http"
	"slices"
	"strings"

	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/gin-gonic/gin"
)

const (
	permissionsKey = "permissions"
	userIDKey      = "user_id"
	usernameKey    = "username"
	roleKey        = "role"
)

// AuthMiddleware validates tokens and enforces authentication.
// With auth disabled every request is treated as admin.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.cfg.Enabled {
			c.Set(permissionsKey, a.roleToPermissions("admin"))
			c.Next()
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			unauthorized(c, "missing or invalid authorization header")
			return
		}

		if claims, err := a.signer.Verify(token); err == nil {
			c.Set(permissionsKey, a.roleToPermissions(claims.Role))
			c.Set(userIDKey, claims.UserID)
			c.Set(usernameKey, claims.Username)
			c.Set(roleKey, claims.Role)
			c.Next()
			return
		}

		// Machine tokens carry no user identity
		permissions, err := a.ValidateMachineToken(c.Request.Context(), token, c.ClientIP(), c.GetHeader("User-Agent"))
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}

		c.Set(permissionsKey, permissions)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse("UNAUTHORIZED", msg, nil))
}

// RequirePermission checks if user has required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(GetPermissions(c), required) {
			c.AbortWithStatusJSON(http.StatusForbidden, types.NewErrorResponse(
				"FORBIDDEN", "insufficient permissions", gin.H{"required": string(required)}))
			return
		}
		c.Next()
	}
}

// GetPermissions extracts permissions set by AuthMiddleware.
func GetPermissions(c *gin.Context) []Permission {
	if perms, ok := c.Get(permissionsKey); ok {
		if p, ok := perms.([]Permission); ok {
			return p
		}
	}
	return nil
}

// GetUsername returns the logged-in user, empty for machine tokens.
func GetUsername(c *gin.Context) string {
	return c.GetString(usernameKey)
}
