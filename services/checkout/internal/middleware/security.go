package middleware

import "github.com/gin-gonic/gin"

// SecurityHeaders добавляет заголовки безопасности ко всем ответам API.
// Чекаут работает с платёжными данными, поэтому ответы не кешируются.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()

		// Запрет встраивания в iframe — защита от clickjacking
		h.Set("X-Frame-Options", "DENY")

		// Запрет MIME-type sniffing
		h.Set("X-Content-Type-Options", "nosniff")

		// Ответы содержат статусы платежей — кешировать нельзя
		h.Set("Cache-Control", "no-store")

		// Не отправлять referrer на другие домены
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		c.Next()
	}
}
