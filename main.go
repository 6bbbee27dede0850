package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"fleetrent/config"
	"fleetrent/database"
	"fleetrent/gateway"
	"fleetrent/handlers"
	"fleetrent/routes"
	"fleetrent/services"
	"fleetrent/settlement"
	"fleetrent/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	issueToken := flag.String("issue-token", "", "簽發指定角色 (admin|agent) 的 token 後結束")
	employeeID := flag.Int("employee-id", 1, "簽發 token 時使用的員工 ID")
	flag.Parse()

	// 載入 .env 檔案
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Info("No .env file found, using default environment variables")
	}
	cfg := config.Load()
	setupLogger(cfg)

	// 初始化 JWTSecret
	if err := utils.InitJWTSecret(cfg.JWTSecret); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize JWT secret")
	}
	if *issueToken != "" {
		if !utils.ValidRole(*issueToken) {
			logrus.WithField("role", *issueToken).Fatal("Unknown role, use admin or agent")
		}
		token, err := utils.GenerateToken(*employeeID, *issueToken, 12*time.Hour)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to issue token")
		}
		fmt.Println(token)
		return
	}

	// 初始化資料庫
	db, err := database.Open(cfg.Database, cfg.GinMode)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	// 執行資料庫遷移
	if err := database.Migrate(db); err != nil {
		logrus.WithError(err).Fatal("Database migration failed")
	}
	logrus.Info("Database migration completed")

	log := logrus.StandardLogger()
	paymentService := services.NewPaymentService(db, log)
	rentService := services.NewRentService(db, cfg.Settlement.Policy, log)

	// 設定 REMOTE_API_URL 時，結算流程改用遠端後台付款與完成
	var payments settlement.PaymentGateway = paymentService
	var loader services.RecordLoader = rentService
	finalize := rentService.Finalizer()
	if remote := cfg.Settlement; remote.RemoteURL != "" {
		payments = gateway.NewHTTPPaymentGateway(remote.RemoteURL, remote.RemoteToken, remote.RemoteTimeout, log)
		finalize = gateway.NewHTTPFinalizer(remote.RemoteURL, remote.RemoteToken, remote.RemoteTimeout, log).Func()
		loader = gateway.NewHTTPRecordLoader(remote.RemoteURL, remote.RemoteToken, remote.RemoteTimeout, log)
		logrus.WithField("url", remote.RemoteURL).Info("Settlement sessions use remote back-office")
	}
	if cfg.Settlement.RetryAttempts > 1 {
		payments = settlement.NewRetryGateway(payments, cfg.Settlement.RetryAttempts, cfg.Settlement.RetryDelay)
	}
	store := services.NewSessionStore(payments, finalize, loader, cfg.Settlement.Policy, cfg.Settlement.SessionMaxIdle, log)

	gin.SetMode(cfg.GinMode)
	logrus.WithField("mode", cfg.GinMode).Info("Gin mode set")

	// 初始化 Gin 路由器
	r := gin.Default()

	// 創建一個 API 路由組
	api := r.Group("/api")
	{
		routes.Path(api, routes.Handlers{
			Payments:    handlers.NewPaymentHandler(paymentService, log),
			Rents:       handlers.NewRentHandler(rentService, log),
			Settlements: handlers.NewSettlementHandler(store, log),
		})
	}

	// 啟動定時任務
	c := cron.New()

	// 清除閒置的結算流程（每 5 分鐘執行一次）
	if _, err := c.AddFunc("*/5 * * * *", func() {
		store.PurgeIdle()
	}); err != nil {
		logrus.WithError(err).Fatal("Failed to schedule settlement session purge")
	}

	// 修正付款狀態（每小時執行一次）
	if _, err := c.AddFunc("0 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := rentService.ReconcilePaymentStates(ctx); err != nil {
			logrus.WithError(err).Error("Failed to reconcile payment states")
		}
	}); err != nil {
		logrus.WithError(err).Fatal("Failed to schedule payment state reconciliation")
	}

	c.Start()
	defer c.Stop()
	logrus.Info("Cron jobs started")

	// 啟動伺服器
	addr := ":" + cfg.Port
	logrus.WithField("addr", addr).Info("Starting server")
	if err := r.Run(addr); err != nil {
		logrus.WithError(err).Fatal("Failed to start server")
	}
}

func setupLogger(cfg config.Config) {
	logrus.SetOutput(os.Stdout)
	if cfg.GinMode == gin.ReleaseMode {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("level", cfg.LogLevel).Warn("Invalid LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
