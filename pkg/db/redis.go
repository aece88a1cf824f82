package db

import (
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/checkout-core/pkg/config"
)

// ConnectRedis создаёт клиент Redis.
// Таймауты короче дефолтных: идемпотентность и rate limit работают
// в режиме fail-open, и зависший Redis должен быстро отдать ошибку,
// а не держать подтверждение оплаты.
func ConnectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}
