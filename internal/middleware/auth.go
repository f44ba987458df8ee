package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nutricoach/scheduling-api/internal/model"
	"github.com/nutricoach/scheduling-api/pkg/auth"
	"github.com/nutricoach/scheduling-api/pkg/errors"
	"github.com/nutricoach/scheduling-api/pkg/httputil"
)

const ContextIdentity = "identity"

type AuthMiddleware struct {
	jwt auth.JWTService
}

func NewAuthMiddleware(jwt auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

// Authenticate verifies the bearer token and stores the caller's identity in the context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, errors.Unauthorized(nil))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.RespondWithError(c, errors.Unauthorized(nil))
			return
		}

		identity, err := m.jwt.ValidateToken(parts[1])
		if err != nil {
			httputil.RespondWithError(c, errors.Unauthorized(err))
			return
		}

		c.Set(ContextIdentity, identity)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not listed
func (m *AuthMiddleware) RequireRole(roles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			httputil.RespondWithError(c, errors.Unauthorized(nil))
			return
		}
		for _, role := range roles {
			if identity.Is(role) {
				c.Next()
				return
			}
		}
		httputil.RespondWithError(c, errors.NewForbidden("role "+string(identity.Role)+" cannot access this resource"))
	}
}

// IdentityFrom returns the identity set by Authenticate.
func IdentityFrom(c *gin.Context) (model.Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return model.Identity{}, false
	}
	identity, ok := v.(model.Identity)
	return identity, ok
}
