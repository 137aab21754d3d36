package rbac

import (
	"net/http"

	"recovery-caller/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireShopScope rejects callers whose token is restricted to a different
// shop than the one named by the route parameter. Unscoped tokens pass.
func RequireShopScope(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		shop := c.Param(param)
		if shop == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "shop required"})
			return
		}
		scope := auth.ShopScope(c.Request.Context())
		if scope != "" && scope != shop {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Rules:
// - super_admin bypasses all checks
// - scheduler is a hidden role, and will be denied unless explicitly allowed
// - shop isolation is enforced via RequireShopScope (use it in the chain)
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
