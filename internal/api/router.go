package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yezidelongshao/fastGPTProject/internal/api/admin"
	"github.com/yezidelongshao/fastGPTProject/internal/api/chat"
	"github.com/yezidelongshao/fastGPTProject/internal/api/middleware"
	"github.com/yezidelongshao/fastGPTProject/internal/service"
)

// ChatPrefix is where the conversation routes are mounted
const ChatPrefix = "/api/core/chat"

// RouterConfig holds configuration for the router
type RouterConfig struct {
	APIKey       string
	AllowOrigins []string
	// RequestsPerHour limits completions per client IP; 0 disables the limit
	RequestsPerHour int
	Logger          *zap.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(
	adminService *service.AdminService,
	ingestService *service.IngestService,
	chatService chat.Service,
	cfg RouterConfig,
) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Chat API (app_id / chat_id based)
	var completionLimits []gin.HandlerFunc
	if cfg.RequestsPerHour > 0 {
		completionLimits = append(completionLimits, middleware.RateLimit(middleware.NewRateLimiter(cfg.RequestsPerHour)))
	}
	chatHandler := chat.NewHandler(chatService, logger.Named("api.chat"))
	chatGroup := r.Group(ChatPrefix)
	chatGroup.Use(middleware.Auth(cfg.APIKey))
	chatHandler.RegisterRoutes(chatGroup, completionLimits...)

	// Admin API (requires API key)
	adminHandler := admin.NewHandler(adminService, ingestService)
	adminGroup := r.Group("/api/admin")
	adminGroup.Use(middleware.Auth(cfg.APIKey))
	adminHandler.RegisterRoutes(adminGroup)

	return r
}
