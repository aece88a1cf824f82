// Package db предоставляет функции подключения к MySQL и Redis.
package db

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/checkout-core/pkg/config"
)

// connectTimeout — таймаут проверочного ping при старте.
const connectTimeout = 5 * time.Second

// ConnectMySQL создаёт подключение к MySQL через GORM.
// Проверяет соединение ping-ом и настраивает пул.
func ConnectMySQL(cfg config.MySQLConfig, debug bool) (*gorm.DB, error) {
	logLevel := gormlogger.Silent
	if debug {
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
		// Нарушение уникального индекса payment_key должно приходить
		// типизированной ошибкой gorm.ErrDuplicatedKey, а не текстом MySQL
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sql.DB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ошибка ping MySQL: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}
