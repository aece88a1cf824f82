package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/checkout-core/pkg/logger"
	"example.com/checkout-core/pkg/metrics"
	"example.com/checkout-core/services/checkout/internal/gateway"
	"example.com/checkout-core/services/checkout/internal/service"
)

// maxWebhookBody — предел размера тела вебхука.
const maxWebhookBody = 1 << 20 // 1 MB

// WebhookHandler — обработчик вебхуков платёжного шлюза.
//
// Контракт со шлюзом: ответ всегда HTTP 200, даже при ошибке обработки.
// Шлюз повторяет доставку при не-200, и неуправляемые повторы
// превратили бы любую ошибку в шторм побочных эффектов. Успех или
// ошибка передаются только в теле ответа.
type WebhookHandler struct {
	events   service.WebhookService
	verifier *gateway.SignatureVerifier
}

// NewWebhookHandler создаёт новый обработчик вебхуков.
func NewWebhookHandler(events service.WebhookService, verifier *gateway.SignatureVerifier) *WebhookHandler {
	return &WebhookHandler{
		events:   events,
		verifier: verifier,
	}
}

// webhookEnvelope — конверт события шлюза.
type webhookEnvelope struct {
	EventType string `json:"eventType"`
	Data      struct {
		PaymentKey string `json:"paymentKey"`
		OrderID    string `json:"orderId"`
		Status     string `json:"status"`
	} `json:"data"`
}

// HandleWebhook принимает событие платёжного шлюза.
// POST /api/v1/payments/webhook
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось прочитать тело вебхука")
		c.JSON(http.StatusOK, gin.H{"result": "error"})
		return
	}

	// Подпись проверяется до разбора тела: содержимому без подписи
	// доверять нельзя.
	signature := c.GetHeader(gateway.SignatureHeader)
	if !h.verifier.Verify(body, signature) {
		log.Warn().
			Str("client_ip", c.ClientIP()).
			Bool("security", true).
			Msg("Вебхук с невалидной подписью")
		metrics.RecordWebhookEvent("unknown", "invalid_signature")
		c.JSON(http.StatusOK, gin.H{"result": "invalid_signature"})
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Warn().Err(err).Msg("Не удалось разобрать тело вебхука")
		metrics.RecordWebhookEvent("unknown", "invalid_payload")
		c.JSON(http.StatusOK, gin.H{"result": "invalid_payload"})
		return
	}
	if env.Data.PaymentKey == "" || env.Data.OrderID == "" {
		log.Warn().
			Str("event_type", env.EventType).
			Msg("Вебхук без ключа платежа или заказа")
		metrics.RecordWebhookEvent("unknown", "invalid_payload")
		c.JSON(http.StatusOK, gin.H{"result": "invalid_payload"})
		return
	}

	outcome, err := h.events.ProcessEvent(ctx, service.WebhookEvent{
		EventType:  env.EventType,
		PaymentKey: env.Data.PaymentKey,
		OrderID:    env.Data.OrderID,
		Status:     env.Data.Status,
		Raw:        body,
	})
	if err != nil {
		// Ошибка остаётся в логах, шлюзу уходит 200
		log.Error().Err(err).
			Str("event_type", env.EventType).
			Str("order_id", env.Data.OrderID).
			Msg("Ошибка обработки вебхука")
		c.JSON(http.StatusOK, gin.H{"result": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": string(outcome)})
}
