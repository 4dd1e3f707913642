// Package middleware содержит HTTP middleware сервиса платежей.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/payment-reconciler/pkg/jwt"
	"example.com/payment-reconciler/pkg/logger"
)

// Ключи gin.Context, заполняемые AdminAuth.
const (
	ContextAdminID = "admin_id"
	ContextJTI     = "jti"
)

// TokenVerifier проверяет токен back-office и требуемую роль.
type TokenVerifier interface {
	VerifyRole(ctx context.Context, token, role string) (*jwt.Claims, error)
}

// AdminAuth пропускает только запросы с валидным токеном администратора.
type AdminAuth struct {
	verifier TokenVerifier
	role     string
}

// NewAdminAuth создаёт middleware. Пустая роль означает "admin".
func NewAdminAuth(verifier TokenVerifier, role string) *AdminAuth {
	if role == "" {
		role = "admin"
	}
	return &AdminAuth{verifier: verifier, role: role}
}

// Handle возвращает Gin handler function для middleware.
func (m *AdminAuth) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		token := ExtractBearerToken(c)
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			return
		}

		claims, err := m.verifier.VerifyRole(ctx, token, m.role)
		switch {
		case errors.Is(err, jwt.ErrForbidden):
			log.Warn().Msg("Токен без роли администратора")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Недостаточно прав",
			})
			return
		case err != nil:
			log.Warn().Err(err).Msg("Ошибка валидации токена")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Невалидный токен",
			})
			return
		}

		c.Set(ContextAdminID, claims.UserID)
		c.Set(ContextJTI, claims.ID)

		log.Debug().
			Str("admin_id", claims.UserID).
			Str("jti", claims.ID).
			Msg("Администратор аутентифицирован")

		c.Next()
	}
}

// ExtractBearerToken извлекает токен из заголовка "Authorization: Bearer <token>".
// Префикс регистронезависимый.
func ExtractBearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
