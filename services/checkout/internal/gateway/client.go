// Package gateway реализует HTTP клиент платёжного шлюза:
// вызов подтверждения транзакции и проверку подписи вебхуков.
//
// Ошибки делятся на два класса. Бизнес-отказ (*Error) означает, что шлюз
// ответил и отклонил операцию — такие ошибки не считаются сбоями для
// circuit breaker. Инфраструктурные ошибки (ErrUnavailable) — сеть,
// таймаут, 5xx — открывают breaker при превышении порога.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/checkout-core/pkg/circuitbreaker"
	"example.com/checkout-core/pkg/config"
	"example.com/checkout-core/pkg/logger"
	"example.com/checkout-core/services/checkout/internal/domain"
)

// confirmPath — путь подтверждения транзакции в API шлюза.
const confirmPath = "/v1/payments/confirm"

// Коды бизнес-отказов, генерируемые на стороне клиента.
const (
	codeUnexpectedStatus = "UNEXPECTED_STATUS"
	codeAmountMismatch   = "AMOUNT_MISMATCH"
)

// ErrUnavailable — шлюз недоступен: сетевая ошибка, таймаут или 5xx.
var ErrUnavailable = errors.New("платёжный шлюз недоступен")

// Error — бизнес-отказ шлюза: провайдер ответил и отклонил операцию.
type Error struct {
	Code    string // Код ошибки провайдера
	Message string // Человекочитаемое описание
}

// Error реализует интерфейс error.
func (e *Error) Error() string {
	return fmt.Sprintf("шлюз отклонил операцию: %s (%s)", e.Message, e.Code)
}

// ConfirmRequest — параметры подтверждения транзакции у шлюза.
type ConfirmRequest struct {
	PaymentKey string // Ключ транзакции, выданный шлюзом
	OrderID    string // ID заказа
	Amount     int64  // Сумма в минимальных единицах
}

// ConfirmResult — разобранный ответ шлюза на подтверждение.
// Raw хранит тело ответа как есть: непрозрачные поля провайдера
// сохраняются в Payment для аудита.
type ConfirmResult struct {
	PaymentKey    string
	OrderID       string
	Status        domain.TransactionStatus
	TotalAmount   int64
	Currency      string
	TransactionID string
	ApprovedAt    *time.Time
	Raw           []byte
}

// confirmPayload — тело исходящего запроса подтверждения.
type confirmPayload struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// confirmResponse — известные поля ответа шлюза. Остальные поля
// не разбираются и попадают в ConfirmResult.Raw без изменений.
type confirmResponse struct {
	PaymentKey         string     `json:"paymentKey"`
	OrderID            string     `json:"orderId"`
	Status             string     `json:"status"`
	TotalAmount        int64      `json:"totalAmount"`
	Currency           string     `json:"currency"`
	LastTransactionKey string     `json:"lastTransactionKey"`
	ApprovedAt         *time.Time `json:"approvedAt"`
}

// gatewayErrorResponse — тело ответа шлюза при отказе.
type gatewayErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client — HTTP клиент платёжного шлюза.
type Client struct {
	httpClient *http.Client
	baseURL    string
	authHeader string
	breaker    *circuitbreaker.Breaker
}

// NewClient создаёт клиент шлюза.
// breaker может быть nil — тогда вызовы идут напрямую (для тестов).
func NewClient(cfg config.GatewayConfig, breaker *circuitbreaker.Breaker) *Client {
	// Секретный ключ передаётся как Basic auth с пустым паролем
	token := base64.StdEncoding.EncodeToString([]byte(cfg.SecretKey + ":"))

	return &Client{
		httpClient: &http.Client{Timeout: cfg.ConfirmTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authHeader: "Basic " + token,
		breaker:    breaker,
	}
}

// Confirm подтверждает транзакцию у шлюза.
// Валидирует ответ: статус должен быть DONE, подтверждённая сумма —
// совпадать с запрошенной. Любое расхождение — бизнес-отказ (*Error).
func (c *Client) Confirm(ctx context.Context, req *ConfirmRequest) (*ConfirmResult, error) {
	log := logger.FromContext(ctx)

	var result *ConfirmResult
	call := func() error {
		var err error
		result, err = c.doConfirm(ctx, req)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call, isInfrastructureError)
	} else {
		err = call()
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("payment_key", logger.MaskPaymentKey(req.PaymentKey)).
			Str("order_id", req.OrderID).
			Msg("Подтверждение у шлюза не удалось")
		return nil, err
	}

	log.Info().
		Str("payment_key", logger.MaskPaymentKey(req.PaymentKey)).
		Str("order_id", req.OrderID).
		Int64("total_amount", result.TotalAmount).
		Msg("Шлюз подтвердил транзакцию")

	return result, nil
}

// doConfirm выполняет один HTTP вызов подтверждения.
func (c *Client) doConfirm(ctx context.Context, req *ConfirmRequest) (*ConfirmResult, error) {
	body, err := json.Marshal(confirmPayload{
		PaymentKey: req.PaymentKey,
		OrderID:    req.OrderID,
		Amount:     req.Amount,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса подтверждения: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+confirmPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания запроса подтверждения: %w", err)
	}
	httpReq.Header.Set("Authorization", c.authHeader)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка чтения ответа: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseGatewayError(respBody, resp.StatusCode)
	}

	var parsed confirmResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		// Нечитаемое тело при 200 — неисправность шлюза, считаем сбоем
		return nil, fmt.Errorf("%w: некорректный ответ: %v", ErrUnavailable, err)
	}

	if status := domain.TransactionStatus(parsed.Status); status != domain.TransactionStatusDone {
		return nil, &Error{
			Code:    codeUnexpectedStatus,
			Message: fmt.Sprintf("статус транзакции %q вместо DONE", parsed.Status),
		}
	}

	if parsed.TotalAmount != req.Amount {
		return nil, &Error{
			Code:    codeAmountMismatch,
			Message: fmt.Sprintf("шлюз подтвердил сумму %d вместо %d", parsed.TotalAmount, req.Amount),
		}
	}

	return &ConfirmResult{
		PaymentKey:    parsed.PaymentKey,
		OrderID:       parsed.OrderID,
		Status:        domain.TransactionStatus(parsed.Status),
		TotalAmount:   parsed.TotalAmount,
		Currency:      parsed.Currency,
		TransactionID: parsed.LastTransactionKey,
		ApprovedAt:    parsed.ApprovedAt,
		Raw:           respBody,
	}, nil
}

// parseGatewayError разбирает тело отказа шлюза.
func parseGatewayError(body []byte, httpStatus int) error {
	var ge gatewayErrorResponse
	if err := json.Unmarshal(body, &ge); err != nil || ge.Code == "" {
		return &Error{
			Code:    fmt.Sprintf("HTTP_%d", httpStatus),
			Message: "шлюз отклонил операцию без кода ошибки",
		}
	}
	return &Error{Code: ge.Code, Message: ge.Message}
}

// isInfrastructureError сообщает breaker'у, какие ошибки считать сбоями.
func isInfrastructureError(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
