// Package handler содержит unit тесты HTTP обработчиков.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/checkout-core/pkg/circuitbreaker"
	"example.com/checkout-core/services/checkout/internal/domain"
	"example.com/checkout-core/services/checkout/internal/gateway"
	"example.com/checkout-core/services/checkout/internal/middleware"
	"example.com/checkout-core/services/checkout/internal/service"
)

// mockConfirmationService — мок для ConfirmationService.
type mockConfirmationService struct {
	confirmFunc func(ctx context.Context, req service.ConfirmPaymentRequest) (*service.ConfirmPaymentResult, error)
	lastRequest *service.ConfirmPaymentRequest
}

func (m *mockConfirmationService) ConfirmPayment(ctx context.Context, req service.ConfirmPaymentRequest) (*service.ConfirmPaymentResult, error) {
	m.lastRequest = &req
	if m.confirmFunc != nil {
		return m.confirmFunc(ctx, req)
	}
	return nil, errors.New("confirmFunc not set")
}

// setupConfirmRouter создаёт роутер с имитацией JWT middleware.
func setupConfirmRouter(svc service.ConfirmationService, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.Use(func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.ContextUserID, userID)
		}
		c.Next()
	})

	handler := NewPaymentHandler(svc)
	r.POST("/api/v1/payments/confirm", handler.ConfirmPayment)
	return r
}

// postConfirm отправляет запрос подтверждения и возвращает ответ.
func postConfirm(router *gin.Engine, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// validConfirmBody возвращает валидное тело запроса подтверждения.
func validConfirmBody() map[string]any {
	return map[string]any{
		"paymentKey": "tgen_20260815123456abcdef",
		"orderId":    "order-1",
		"amount":     15000,
	}
}

func TestConfirmPaymentHandler_Success(t *testing.T) {
	svc := &mockConfirmationService{
		confirmFunc: func(ctx context.Context, req service.ConfirmPaymentRequest) (*service.ConfirmPaymentResult, error) {
			return &service.ConfirmPaymentResult{
				OrderID:     req.OrderID,
				OrderNumber: "ORD-20260815-0001",
				Status:      "PAID",
				Amount:      req.Amount,
			}, nil
		},
	}
	router := setupConfirmRouter(svc, "user-1")

	w := postConfirm(router, validConfirmBody())

	require.Equal(t, http.StatusOK, w.Code)

	var resp ConfirmPaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "order-1", resp.OrderID)
	assert.Equal(t, "ORD-20260815-0001", resp.OrderNumber)
	assert.Equal(t, "PAID", resp.Status)
	assert.Equal(t, int64(15000), resp.Amount)

	// user_id берётся из токена, а не из тела запроса
	require.NotNil(t, svc.lastRequest)
	assert.Equal(t, "user-1", svc.lastRequest.UserID)
}

func TestConfirmPaymentHandler_Unauthenticated(t *testing.T) {
	svc := &mockConfirmationService{}
	router := setupConfirmRouter(svc, "")

	w := postConfirm(router, validConfirmBody())

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")
	assert.Nil(t, svc.lastRequest, "сервис не должен вызываться без авторизации")
}

func TestConfirmPaymentHandler_InvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{
			name: "без ключа платежа",
			body: map[string]any{"orderId": "order-1", "amount": 15000},
		},
		{
			name: "без заказа",
			body: map[string]any{"paymentKey": "tgen_abc", "amount": 15000},
		},
		{
			name: "нулевая сумма",
			body: map[string]any{"paymentKey": "tgen_abc", "orderId": "order-1", "amount": 0},
		},
		{
			name: "отрицательная сумма",
			body: map[string]any{"paymentKey": "tgen_abc", "orderId": "order-1", "amount": -100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockConfirmationService{}
			router := setupConfirmRouter(svc, "user-1")

			w := postConfirm(router, tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "invalid_request")
			assert.Nil(t, svc.lastRequest, "сервис не должен вызываться при невалидном запросе")
		})
	}
}

func TestConfirmPaymentHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name           string
		serviceErr     error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "сумма не совпадает",
			serviceErr:     domain.ErrAmountMismatch,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "amount_mismatch",
		},
		{
			name:           "повтор ключа для другого заказа",
			serviceErr:     domain.ErrPaymentKeyReuse,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "payment_key_reuse",
		},
		{
			name:           "заказ уже оплачен другой транзакцией",
			serviceErr:     domain.ErrDuplicatePayment,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "duplicate_payment",
		},
		{
			name:           "заказ не оплачиваем",
			serviceErr:     domain.ErrOrderNotPayable,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "order_not_payable",
		},
		{
			name:           "заказ не найден",
			serviceErr:     domain.ErrOrderNotFound,
			expectedStatus: http.StatusNotFound,
			expectedError:  "order_not_found",
		},
		{
			name:           "чужой заказ неотличим от несуществующего",
			serviceErr:     domain.ErrOrderAccessDenied,
			expectedStatus: http.StatusNotFound,
			expectedError:  "order_not_found",
		},
		{
			name:           "бизнес-отказ шлюза",
			serviceErr:     &gateway.Error{Code: "NOT_FOUND_PAYMENT", Message: "платёж не найден"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "gateway_rejected",
		},
		{
			name:           "шлюз недоступен",
			serviceErr:     gateway.ErrUnavailable,
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "gateway_unavailable",
		},
		{
			name:           "circuit breaker открыт",
			serviceErr:     circuitbreaker.ErrOpen,
			expectedStatus: http.StatusServiceUnavailable,
			expectedError:  "gateway_unavailable",
		},
		{
			name:           "неожиданная ошибка",
			serviceErr:     errors.New("connection refused"),
			expectedStatus: http.StatusInternalServerError,
			expectedError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockConfirmationService{
				confirmFunc: func(ctx context.Context, req service.ConfirmPaymentRequest) (*service.ConfirmPaymentResult, error) {
					return nil, tt.serviceErr
				},
			}
			router := setupConfirmRouter(svc, "user-1")

			w := postConfirm(router, validConfirmBody())

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.expectedError)
		})
	}
}
