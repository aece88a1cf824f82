package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/checkout-core/pkg/logger"
	"example.com/checkout-core/services/checkout/internal/middleware"
	"example.com/checkout-core/services/checkout/internal/service"
)

// PaymentHandler — обработчик подтверждения оплаты.
type PaymentHandler struct {
	confirmations service.ConfirmationService
}

// NewPaymentHandler создаёт новый обработчик платежей.
func NewPaymentHandler(confirmations service.ConfirmationService) *PaymentHandler {
	return &PaymentHandler{confirmations: confirmations}
}

// === Request/Response DTOs ===

// ConfirmPaymentRequest — запрос подтверждения оплаты.
// Имена полей повторяют параметры, с которыми платёжный виджет
// возвращает покупателя в магазин.
type ConfirmPaymentRequest struct {
	PaymentKey string `json:"paymentKey" binding:"required"`
	OrderID    string `json:"orderId" binding:"required"`
	Amount     int64  `json:"amount" binding:"required,min=1"`
}

// ConfirmPaymentResponse — ответ на подтверждение оплаты.
type ConfirmPaymentResponse struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
}

// === Handlers ===

// ConfirmPayment подтверждает оплату заказа.
// POST /api/v1/payments/confirm
//
// Повторный запрос с тем же ключом платежа возвращает 200 без
// повторного обращения к шлюзу.
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	// user_id кладёт JWT middleware
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Требуется авторизация",
		})
		return
	}

	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос подтверждения оплаты")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидные данные запроса",
		})
		return
	}

	result, err := h.confirmations.ConfirmPayment(ctx, service.ConfirmPaymentRequest{
		PaymentKey: req.PaymentKey,
		OrderID:    req.OrderID,
		UserID:     userID,
		Amount:     req.Amount,
	})
	if err != nil {
		HandleServiceError(c, err, "ConfirmPayment")
		return
	}

	log.Info().
		Str("order_id", result.OrderID).
		Str("user_id", userID).
		Bool("already_confirmed", result.AlreadyConfirmed).
		Msg("Оплата подтверждена")

	c.JSON(http.StatusOK, ConfirmPaymentResponse{
		OrderID:     result.OrderID,
		OrderNumber: result.OrderNumber,
		Status:      result.Status,
		Amount:      result.Amount,
	})
}
