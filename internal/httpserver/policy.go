package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Platform roles. Clients never touch the credits subsystem; they pay per
// project, not with credits.
const (
	RoleVideographer = "videographer"
	RoleVideoEditor  = "video_editor"
	RoleClient       = "client"
	RoleAdmin        = "admin"
	RoleSuperAdmin   = "super_admin"
)

var (
	freelancerRoles = []string{RoleVideographer, RoleVideoEditor}
	adminRoles      = []string{RoleAdmin, RoleSuperAdmin}
)

// requireRoles rejects authenticated requests whose role is not in the
// allowed set.
func requireRoles(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		if _, ok := allowedSet[claims.Role]; !ok {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "role not allowed"))
			return
		}
		ctx.Next()
	}
}
