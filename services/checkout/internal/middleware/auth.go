// Package middleware содержит HTTP middleware сервиса чекаута.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/checkout-core/pkg/jwt"
	"example.com/checkout-core/pkg/logger"
)

// ContextUserID — ключ, под которым ID пользователя кладётся в контекст Gin.
const ContextUserID = "user_id"

// TokenValidator — проверка JWT токена.
// Интерфейс позволяет подменять *jwt.Manager в тестах.
type TokenValidator interface {
	ValidateToken(tokenString string) (*jwt.Claims, error)
}

// AuthMiddleware проверяет Bearer токен запроса. Токены выпускает внешний
// сервис аутентификации; здесь проверяются подпись, срок действия и
// издатель — без похода по сети.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware создаёт middleware аутентификации.
// Обычно validator — это *jwt.Manager с публичным ключом.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Handle возвращает Gin handler function для middleware.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromContext(c.Request.Context())

		token := extractBearerToken(c)
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка валидации токена")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Невалидный токен",
			})
			return
		}

		if claims.UserID == "" {
			log.Warn().Msg("Токен без user_id")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Невалидный токен",
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)

		log.Debug().
			Str("user_id", claims.UserID).
			Msg("Пользователь аутентифицирован")

		c.Next()
	}
}

// extractBearerToken извлекает токен из заголовка Authorization.
// Формат: "Bearer <token>", префикс регистронезависимый.
func extractBearerToken(c *gin.Context) string {
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

// UserIDFromContext достаёт ID аутентифицированного пользователя из
// контекста Gin. Пустая строка — запрос прошёл мимо AuthMiddleware.
func UserIDFromContext(c *gin.Context) string {
	userID, _ := c.Get(ContextUserID)
	if s, ok := userID.(string); ok {
		return s
	}
	return ""
}
