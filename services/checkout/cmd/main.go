// Checkout Service — сервис подтверждения и сверки оплаты заказов.
// Принимает подтверждение из браузера покупателя и вебхуки платёжного шлюза,
// переводит заказ PENDING → PAID ровно один раз, списывает остатки и чистит
// корзину. Уведомления о смене статуса пишутся в outbox и уходят в Kafka.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/checkout-core/pkg/circuitbreaker"
	"example.com/checkout-core/pkg/config"
	dbpkg "example.com/checkout-core/pkg/db"
	"example.com/checkout-core/pkg/healthcheck"
	"example.com/checkout-core/pkg/jwt"
	"example.com/checkout-core/pkg/kafka"
	"example.com/checkout-core/pkg/logger"
	"example.com/checkout-core/pkg/metrics"
	"example.com/checkout-core/pkg/outbox"
	"example.com/checkout-core/pkg/tracing"
	"example.com/checkout-core/services/checkout/internal/gateway"
	"example.com/checkout-core/services/checkout/internal/handler"
	"example.com/checkout-core/services/checkout/internal/middleware"
	"example.com/checkout-core/services/checkout/internal/repository"
	"example.com/checkout-core/services/checkout/internal/service"
)

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	// Создаём логгер с контекстом сервиса
	log := logger.With().Str("service", "checkout").Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Msg("Запуск Checkout Service")

	// === Observability: Tracing ===

	// Инициализируем distributed tracing (Jaeger)
	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "checkout",
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Environment:    cfg.App.Env,
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	// Подключаемся к MySQL
	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	// Подключаемся к Redis
	rdb := dbpkg.ConnectRedis(cfg.Redis)
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}()

	// Проверяем подключение к Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	cancel()
	log.Info().Msg("Подключение к Redis установлено")

	// ReadinessChecker для /readyz — проверяет MySQL и Redis
	readinessCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, db) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, rdb) },
	)

	// === Observability: Metrics ===

	// Запускаем HTTP сервер для Prometheus метрик
	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"checkout",
			metrics.WithReadinessCheck(readinessCheck),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Инициализация бизнес-логики ===

	// Создаём слои приложения (Clean Architecture)
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	stockRepo := repository.NewStockRepository(db)
	cartRepo := repository.NewCartRepository(db)

	// Outbox Repository для уведомлений о смене статуса заказа (Outbox Pattern)
	outboxRepo := outbox.NewOutboxRepository(db, "order")

	// Клиент платёжного шлюза за circuit breaker
	breaker := circuitbreaker.New("payment-gateway")
	gatewayClient := gateway.NewClient(cfg.Gateway, breaker)

	guard := service.NewIdempotencyGuard(paymentRepo, rdb)
	stockService := service.NewStockDeductionService(orderRepo, stockRepo)
	cartService := service.NewCartReconciliationService(cartRepo)
	confirmationService := service.NewConfirmationService(
		orderRepo, paymentRepo, guard, gatewayClient,
		stockService, cartService, cfg.Kafka.NotificationsTopic,
	)
	webhookService := service.NewWebhookService(
		orderRepo, paymentRepo, guard,
		stockService, cartService, cfg.Kafka.NotificationsTopic,
	)

	// Контекст для graceful shutdown
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	// Инициализируем Kafka компоненты
	var kafkaProducer *kafka.Producer
	var workersWg sync.WaitGroup // WaitGroup для ожидания завершения фоновых воркеров при shutdown

	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka")

		// Создаём Producer для Outbox Worker (отправка уведомлений в Kafka)
		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		// Запускаем Outbox Worker (читает outbox → отправляет в Kafka)
		outboxWorker := outbox.NewOutboxWorker(outboxRepo, kafkaProducer, outbox.DefaultWorkerConfig(), "checkout")
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Паника в Checkout Outbox Worker")
				}
			}()
			outboxWorker.Run(ctx)
		}()

		log.Info().Msg("Checkout Outbox Worker запущен")
	} else {
		// Без Kafka уведомления копятся в outbox и уйдут после включения воркера
		log.Warn().Msg("Kafka не настроена — отправка уведомлений отключена")
	}

	// Запускаем воркер досписания остатков (оплаченные заказы без списания)
	if cfg.Recovery.Enabled {
		recoveryWorker := service.NewStockRecoveryWorker(orderRepo, stockService, cfg.Recovery)
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Паника в Stock Recovery Worker")
				}
			}()
			recoveryWorker.Run(ctx)
		}()

		log.Info().
			Dur("interval", cfg.Recovery.Interval).
			Msg("Stock Recovery Worker запущен")
	}

	// === Middleware ===

	// Auth middleware (локальная валидация JWT по публичному ключу)
	jwtManager, err := jwt.NewManager(jwt.Config{
		PublicKeyPath: cfg.JWT.PublicKeyPath,
		Issuer:        cfg.JWT.Issuer,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации JWT")
	}
	authMW := middleware.NewAuthMiddleware(jwtManager)

	// Rate limiting middleware (на endpoint подтверждения)
	var rateLimitMW *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		rateLimitMW = middleware.NewRateLimitMiddleware(rdb, cfg.RateLimit)
		log.Info().
			Int("limit", cfg.RateLimit.RequestsPerWindow).
			Dur("window", cfg.RateLimit.Window).
			Msg("Rate limiting включён")
	}

	// === Настройка роутера ===

	paymentHandler := handler.NewPaymentHandler(confirmationService)
	webhookHandler := handler.NewWebhookHandler(
		webhookService,
		gateway.NewSignatureVerifier(cfg.Gateway.WebhookSecret),
	)

	router := handler.NewRouter(handler.RouterConfig{
		Payments:       paymentHandler,
		Webhooks:       webhookHandler,
		AuthMW:         authMW,
		RateLimitMW:    rateLimitMW,
		ReadinessCheck: readinessCheck,
		Debug:          cfg.IsDevelopment(),
	})

	// === HTTP сервер ===

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Msg("HTTP сервер запущен")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// === Graceful Shutdown ===

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	// Отменяем контекст — останавливаем фоновые воркеры
	cancel()

	// Ждём завершения всех фоновых воркеров перед закрытием ресурсов
	workersWg.Wait()

	// Закрываем Kafka Producer
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	// Останавливаем HTTP сервер: даём время дообработать запросы в полёте
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка при остановке сервера")
	}

	// Закрываем подключение к MySQL
	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	// Останавливаем Metrics Server (если был запущен) и ждём завершения горутины
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	// Останавливаем Tracing
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Checkout Service остановлен")
}
