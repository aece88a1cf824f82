// Package handler содержит HTTP обработчики сервиса чекаута.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/checkout-core/pkg/circuitbreaker"
	"example.com/checkout-core/pkg/logger"
	"example.com/checkout-core/services/checkout/internal/domain"
	"example.com/checkout-core/services/checkout/internal/gateway"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleServiceError преобразует ошибку сервисного слоя в HTTP ответ.
// Используется всеми handlers для единообразной обработки ошибок.
func HandleServiceError(c *gin.Context, err error, method string) {
	if err == nil {
		logger.Error().Str("method", method).Msg("HandleServiceError вызван с nil ошибкой — баг в коде")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	log := logger.FromContext(c.Request.Context())

	// Бизнес-отказ шлюза: провайдер отклонил операцию, передаём его код
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "gateway_rejected",
			Message: gwErr.Message,
		})
		return
	}

	var httpStatus int
	var errorCode string
	var message string

	switch {
	case errors.Is(err, domain.ErrInvalidPaymentKey),
		errors.Is(err, domain.ErrInvalidOrderID),
		errors.Is(err, domain.ErrInvalidUserID),
		errors.Is(err, domain.ErrInvalidAmount):
		httpStatus = http.StatusBadRequest
		errorCode = "invalid_request"
		message = err.Error()

	case errors.Is(err, domain.ErrAmountMismatch):
		httpStatus = http.StatusBadRequest
		errorCode = "amount_mismatch"
		message = "Сумма платежа не совпадает с суммой заказа"

	case errors.Is(err, domain.ErrPaymentKeyReuse):
		httpStatus = http.StatusBadRequest
		errorCode = "payment_key_reuse"
		message = "Ключ платежа уже использован для другого заказа"

	case errors.Is(err, domain.ErrDuplicatePayment):
		httpStatus = http.StatusBadRequest
		errorCode = "duplicate_payment"
		message = "Заказ уже оплачен другой транзакцией"

	case errors.Is(err, domain.ErrOrderNotPayable):
		httpStatus = http.StatusBadRequest
		errorCode = "order_not_payable"
		message = "Заказ нельзя оплатить в текущем статусе"

	// Чужой заказ наружу неотличим от несуществующего
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrOrderAccessDenied):
		httpStatus = http.StatusNotFound
		errorCode = "order_not_found"
		message = "Заказ не найден"

	case errors.Is(err, gateway.ErrUnavailable),
		errors.Is(err, circuitbreaker.ErrOpen):
		httpStatus = http.StatusServiceUnavailable
		errorCode = "gateway_unavailable"
		message = "Платёжный шлюз временно недоступен, повторите попытку"

	default:
		httpStatus = http.StatusInternalServerError
		errorCode = "internal_error"
		message = "Внутренняя ошибка сервера"
		log.Error().
			Err(err).
			Str("method", method).
			Msg("Необработанная ошибка сервиса")
	}

	c.JSON(httpStatus, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
