package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/annel0/voxel-terrain/internal/auth"
)

// ClaimsKey: ключ проверенных claims в gin.Context.
const ClaimsKey = "claims"

// RequireScope пропускает запрос только с Bearer-токеном, у которого есть scope.
func RequireScope(issuer *auth.TokenIssuer, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "требуется Bearer-токен"})
			return
		}

		claims, err := issuer.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "недействительный токен"})
			return
		}
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "недостаточно прав: нужен " + scope})
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// OperatorFrom возвращает оператора из проверенного токена.
func OperatorFrom(c *gin.Context) string {
	if v, ok := c.Get(ClaimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims.Operator
		}
	}
	return ""
}
