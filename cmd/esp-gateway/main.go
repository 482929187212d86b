package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"esp-gateway/internal/ai"
	"esp-gateway/internal/cache"
	"esp-gateway/internal/config"
	"esp-gateway/internal/database"
	httpapi "esp-gateway/internal/http"
	"esp-gateway/internal/logger"
	"esp-gateway/internal/mqtt"
	"esp-gateway/internal/repository"
	"esp-gateway/internal/service"
	"esp-gateway/internal/weather"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "esp-gateway")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	weatherCache := cache.NewWeatherCache(redisClient, cfg.Weather.Location, log)

	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	telemetryRepo := repository.NewPostgresTelemetryRepository(db, log)
	if err := telemetryRepo.EnsureSchema(context.Background()); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}

	mqttClient, err := mqtt.NewClient(&cfg.MQTT, log)
	if err != nil {
		log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	adapter := mqtt.NewDeviceAdapter(mqttClient, cfg.Device.DeviceID, cfg.MQTT.QoS, log)
	if err := adapter.Start(); err != nil {
		log.Fatal("Failed to subscribe to device topics", zap.Error(err))
	}

	weatherClient := weather.NewClient(&cfg.Weather, log)
	aiClient := ai.NewClient(&cfg.AI, log)

	orchestrator, err := service.NewOrchestrator(cfg, adapter, telemetryRepo, weatherCache, weatherClient, aiClient, log)
	if err != nil {
		log.Fatal("Failed to create orchestrator", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go orchestrator.Run(ctx)

	// 每日保留期清理
	go runRetention(ctx, telemetryRepo, cfg.Device.RetentionDays, log)

	deviceHandler := httpapi.NewDeviceHandler(orchestrator, telemetryRepo, cfg.Device.DeviceID, log)
	authHandler := httpapi.NewAuthHandler(weatherCache, cfg.Auth.BotSecret, log)
	router := httpapi.NewRouter(log)
	router.RegisterDeviceRoutes(deviceHandler, authHandler)
	router.RegisterAuthRoutes(authHandler)

	srv := service.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case err := <-errCh:
		log.Error("HTTP server exited", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	_ = adapter.Stop()
	mqttClient.Disconnect()
	_ = redisClient.Close()
	_ = db.Close()
}

// runRetention 每天清理一次过期时序数据
func runRetention(ctx context.Context, repo *repository.PostgresTelemetryRepository, days int, log *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := repo.CleanupOldData(ctx, days); err != nil {
				log.Error("Retention cleanup failed", zap.Error(err))
			}
		}
	}
}
