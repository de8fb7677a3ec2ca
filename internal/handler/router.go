package handler

import (
	"polyfinance/internal/auth"
	"polyfinance/internal/config"
	"polyfinance/internal/infrastructure/metrics"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, tokens *auth.TokenManager) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, tokens)
	requireUser := AuthMiddleware(tokens)
	loginLimiter := NewRateLimiter(cfg.Auth.LoginRateLimit, cfg.Auth.LoginBurst)

	api := r.Group("/api/v1")
	{
		authGroup := api.Group("/auth", loginLimiter.Middleware())
		{
			authGroup.POST("/register", h.Register)
			authGroup.POST("/login", h.Login)
		}

		// 银行回调不走用户鉴权
		api.POST("/webhook/sepay", h.SepayWebhook)

		user := api.Group("/user", requireUser)
		{
			user.GET("/data", h.GetProfile)
			user.GET("/transactions", h.ListTransactions)
			user.GET("/check-uid", h.CheckUID)
			user.GET("/affiliate-stats", h.AffiliateStats)
			user.GET("/reconcile", h.Reconcile)
			user.GET("/security", h.GetSecurity)
			user.POST("/security", h.UpdateSecurity)
			user.POST("/kyc", h.SubmitKYC)
			user.POST("/change-password", h.ChangePassword)
			user.POST("/transfer", h.Transfer)
			user.POST("/swap", h.Swap)
			user.POST("/withdraw", h.Withdraw)
			user.POST("/wallet-request", h.RequestWallet)
		}

		mining := api.Group("/mining", requireUser)
		{
			mining.GET("/status", h.MiningStatus)
			mining.POST("/claim", h.ClaimMining)
			mining.POST("/buy", h.Invest)
		}

		api.POST("/staking/create", requireUser, h.Stake)

		p2p := api.Group("/p2p", requireUser)
		{
			p2p.GET("/orders", h.ListOrders)
			p2p.POST("/trades", h.RequestTrade)
			p2p.GET("/trades", h.ListMyTrades)
		}

		admin := api.Group("/admin", requireUser, AdminMiddleware())
		{
			admin.GET("/accounts", h.AdminListAccounts)
			admin.GET("/accounts/:id/reconcile", h.AdminReconcile)
			admin.POST("/credit", h.AdminCredit)

			admin.POST("/orders", h.AdminCreateOrder)
			admin.DELETE("/orders/:id", h.AdminDeleteOrder)
			admin.GET("/trades", h.AdminListTrades)
			admin.POST("/trades/action", h.AdminResolveTrade)
			admin.GET("/payment-events", h.AdminPaymentEvents)

			admin.GET("/withdrawals", h.AdminListWithdrawals)
			admin.POST("/withdrawals/action", h.AdminResolveWithdrawal)

			admin.GET("/wallet-requests", h.AdminListWalletRequests)
			admin.POST("/wallet", h.AdminSetWallet)

			admin.GET("/outbox/failed", h.AdminFailedOutbox)
			admin.POST("/outbox/:id/requeue", h.AdminRequeueOutbox)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}
