// Package healthcheck предоставляет проверки готовности сервиса.
// Используется для Kubernetes readiness probe (/readyz): пока MySQL
// или Redis недоступны, сервис не должен принимать трафик.
package healthcheck

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// CheckMySQL проверяет доступность MySQL через пул соединений GORM.
func CheckMySQL(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("mysql: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql ping: %w", err)
	}
	return nil
}

// CheckRedis проверяет доступность Redis.
func CheckRedis(ctx context.Context, rdb *redis.Client) error {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Composite объединяет несколько проверок в одну.
// Выполняет все проверки и возвращает объединённую ошибку:
// в логе readiness видна каждая недоступная зависимость, а не только первая.
func Composite(checks ...func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, check := range checks {
			if err := check(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
