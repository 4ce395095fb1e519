package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"vault-service/internal/model/actor"
)

const actorKey = "actor"

// Claims is the token shape the auth collaborator issues. The engine trusts
// the signature and performs no further identity checks.
type Claims struct {
	UID      uint32 `json:"uid"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Auth validates the bearer token and puts the acting identity into the
// request context. Every state-changing handler reads the actor from here
// and passes it to the engine explicitly.
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token not provided"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		role := actor.Role(claims.Role)
		if !role.Valid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown role"})
			return
		}

		c.Set(actorKey, actor.Actor{
			ID:       claims.UID,
			Username: claims.Username,
			Role:     role,
		})
		c.Next()
	}
}

// ActorFrom returns the authenticated actor stored by Auth.
func ActorFrom(c *gin.Context) (actor.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return actor.Actor{}, false
	}
	act, ok := v.(actor.Actor)
	return act, ok
}
