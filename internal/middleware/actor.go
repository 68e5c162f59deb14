package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/logger"
)

// Headers set by the upstream authentication collaborator.
const (
	TenantHeader = "X-Tenant-ID"
	ActorHeader  = "X-Actor-ID"
	RoleHeader   = "X-Actor-Role"
)

const actorKey = "dispatch.actor"

// ActorMiddleware resolves the (tenant, actor, role) triple from the request
// headers and rejects requests that do not carry a complete one.
func ActorMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := domain.Actor{
			TenantID: strings.TrimSpace(c.GetHeader(TenantHeader)),
			ID:       strings.TrimSpace(c.GetHeader(ActorHeader)),
			Role:     domain.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(RoleHeader)))),
		}
		if actor.TenantID == "" || actor.ID == "" {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing actor headers")
			return
		}
		if !actor.Role.IsValid() {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "unknown actor role")
			return
		}

		c.Set(actorKey, actor)
		ctx := log.WithTenantID(c.Request.Context(), actor.TenantID)
		ctx = log.WithActor(ctx, actor.ID, string(actor.Role))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireRole lets only the listed roles through.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHENTICATED", "missing actor")
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "FORBIDDEN", "role "+string(actor.Role)+" may not perform this operation")
	}
}

// ActorFrom returns the actor resolved by ActorMiddleware.
func ActorFrom(c *gin.Context) (domain.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return domain.Actor{}, false
	}
	actor, ok := v.(domain.Actor)
	return actor, ok
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": code})
}
