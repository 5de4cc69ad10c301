package router

import (
	"fintrack/internal/config"
	"fintrack/internal/handler"
	"fintrack/internal/middleware"
	"fintrack/internal/recurring"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter configures Gin engine and API routes.
func SetupRouter(cfg *config.Config, db *gorm.DB, svc *recurring.Service) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// ====== API ======
	api := r.Group("/api")

	jwtSecret := cfg.JWT.Secret
	// 登录/注册接口（不需要鉴权）
	authHandler := handler.NewAuthHandler(db, jwtSecret, cfg.JWT.ExpireHours)
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)

	// 需要登录才能访问的接口
	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(jwtSecret, db))

	protected.GET("/me", handler.GetMe)

	txnHandler := handler.NewTransactionHandler(db)
	protected.POST("/transactions", txnHandler.CreateTransaction)
	protected.GET("/transactions", txnHandler.ListTransactions)
	protected.DELETE("/transactions/:id", txnHandler.DeleteTransaction)

	recurringHandler := handler.NewRecurringHandler(db, svc)
	protected.POST("/recurring", recurringHandler.CreateRule)
	protected.GET("/recurring", recurringHandler.ListRules)
	protected.GET("/recurring/runs", recurringHandler.ListRuns)
	protected.POST("/recurring/process", recurringHandler.ProcessNow)
	protected.GET("/recurring/:id", recurringHandler.GetRule)
	protected.PUT("/recurring/:id", recurringHandler.UpdateRule)
	protected.PATCH("/recurring/:id/toggle", recurringHandler.ToggleRule)
	protected.DELETE("/recurring/:id", recurringHandler.DeleteRule)

	return r
}
