package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/checkout-core/pkg/metrics"
	"example.com/checkout-core/services/checkout/internal/middleware"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — конфигурация HTTP роутера чекаута.
type Router struct {
	engine         *gin.Engine
	payments       *PaymentHandler
	webhooks       *WebhookHandler
	authMW         *middleware.AuthMiddleware
	rateLimitMW    *middleware.RateLimitMiddleware
	readinessCheck ReadinessChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Payments       *PaymentHandler
	Webhooks       *WebhookHandler
	AuthMW         *middleware.AuthMiddleware
	RateLimitMW    *middleware.RateLimitMiddleware
	ReadinessCheck ReadinessChecker // опциональная проверка готовности для /readyz
	Debug          bool             // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(gin.Recovery())

	// Security headers — защита от clickjacking и MIME-sniffing
	engine.Use(middleware.SecurityHeaders())

	// OpenTelemetry tracing — создаёт spans для Jaeger
	engine.Use(otelgin.Middleware("checkout"))

	// Prometheus метрики — requests_total, request_duration_seconds
	engine.Use(metrics.GinMetricsMiddleware("checkout"))

	r := &Router{
		engine:         engine,
		payments:       cfg.Payments,
		webhooks:       cfg.Webhooks,
		authMW:         cfg.AuthMW,
		rateLimitMW:    cfg.RateLimitMW,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	// Health endpoints (без rate limiting и auth)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	v1 := r.engine.Group("/api/v1")
	payments := v1.Group("/payments")

	// === Подтверждение оплаты (защищённое) ===
	// Rate limit стоит после auth: лимит считается на пользователя.
	confirm := payments.Group("")
	if r.authMW != nil {
		confirm.Use(r.authMW.Handle())
	}
	if r.rateLimitMW != nil {
		confirm.Use(r.rateLimitMW.Handle())
	}
	confirm.POST("/confirm", r.payments.ConfirmPayment)

	// === Вебхук шлюза ===
	// Без auth и rate limit: аутентификация — подпись тела, а ограничение
	// частоты нарушило бы контракт "всегда 200".
	payments.POST("/webhook", r.webhooks.HandleWebhook)
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// livenessCheck — liveness probe для Kubernetes.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — readiness probe для Kubernetes.
// Возвращает 200 OK, если все зависимости доступны.
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
