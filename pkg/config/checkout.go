package config

import (
	"fmt"
	"time"
)

// HTTPConfig содержит настройки HTTP сервера чекаута.
type HTTPConfig struct {
	Host            string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GatewayConfig содержит настройки платежного шлюза.
// SecretKey используется для авторизации запроса подтверждения,
// WebhookSecret - для проверки подписи входящих вебхуков.
type GatewayConfig struct {
	BaseURL        string        `env:"GATEWAY_BASE_URL" envDefault:"https://api.paygate.example.com"`
	SecretKey      string        `env:"GATEWAY_SECRET_KEY,required"`
	WebhookSecret  string        `env:"GATEWAY_WEBHOOK_SECRET,required"`
	ConfirmTimeout time.Duration `env:"GATEWAY_CONFIRM_TIMEOUT" envDefault:"10s"`
}

// RateLimitConfig содержит настройки ограничения частоты запросов
// на endpoint подтверждения платежа.
type RateLimitConfig struct {
	Enabled           bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsPerWindow int           `env:"RATE_LIMIT_REQUESTS" envDefault:"30"`
	Window            time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// RecoveryConfig содержит настройки фонового воркера досписания остатков.
// Воркер находит оплаченные заказы, у которых остатки не списаны,
// и повторяет списание.
type RecoveryConfig struct {
	Enabled   bool          `env:"RECOVERY_ENABLED" envDefault:"true"`
	Interval  time.Duration `env:"RECOVERY_INTERVAL" envDefault:"1m"`
	MinAge    time.Duration `env:"RECOVERY_MIN_AGE" envDefault:"30s"`
	BatchSize int           `env:"RECOVERY_BATCH_SIZE" envDefault:"50"`
}
