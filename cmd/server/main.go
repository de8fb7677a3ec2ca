package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polyfinance/internal/auth"
	"polyfinance/internal/config"
	"polyfinance/internal/handler"
	"polyfinance/internal/infrastructure/cache"
	"polyfinance/internal/infrastructure/database"
	"polyfinance/internal/infrastructure/mq"
	"polyfinance/internal/job"
	"polyfinance/internal/logger"
	"polyfinance/internal/service"
	"polyfinance/pkg/idgen"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	if err := logger.Init(&cfg.Log); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	if err := idgen.Init(1); err != nil {
		logger.Log.Fatal("初始化 ID 生成器失败", zap.Error(err))
	}

	db, err := database.Open(cfg)
	if err != nil {
		logger.Log.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer database.Close(db)

	// redis 未启用时为 nil，锁和缓存退化为空操作
	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("初始化 Redis 失败", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var publisher mq.Publisher = mq.LogPublisher{}
	if cfg.Kafka.Enabled {
		kp, err := mq.InitKafka(&cfg.Kafka)
		if err != nil {
			logger.Log.Fatal("初始化 Kafka 失败", zap.Error(err))
		}
		publisher = kp
	}
	defer publisher.Close()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(db, publisher, cfg)
	go outboxSender.Start(ctx)

	tradeTimeoutJob := job.NewTradeTimeoutJob(service.NewP2PService(db, redisClient, cfg), cfg.Business.TradeTimeoutHours)
	if tradeTimeoutJob != nil {
		if err := tradeTimeoutJob.Start(ctx); err != nil {
			logger.Log.Fatal("启动交易超时任务失败", zap.Error(err))
		}
	}

	router := handler.SetupRouter(db, redisClient, cfg, tokens)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Log.Info("服务启动", zap.Int("port", cfg.Server.Port), zap.String("db", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("正在关闭服务...")

	// 先停后台任务，再关 HTTP
	cancel()
	if tradeTimeoutJob != nil {
		tradeTimeoutJob.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("服务关闭异常", zap.Error(err))
	}

	logger.Log.Info("服务已关闭")
}
