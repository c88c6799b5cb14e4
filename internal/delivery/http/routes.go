package http

import (
	"github.com/gin-gonic/gin"

	"github.com/hesto/backend/config"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(cfg *config.Config, handler *Handler) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(RecoveryMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(RateLimitMiddleware(cfg.RateLimit.PerIP, cfg.RateLimit.Burst))
	{
		// Content contexts, one per tab
		tabs := v1.Group("/tabs/:tab")
		{
			tabs.POST("/click", handler.HandleClick)
			tabs.GET("/events", handler.TabEvents)
			tabs.DELETE("", handler.CloseTab)
		}

		v1.GET("/background/events", handler.BackgroundEvents)

		popup := v1.Group("/popup")
		{
			popup.GET("", handler.GetPopup)
			popup.GET("/lifecycle", handler.PopupLifecycle)
		}

		state := v1.Group("/state")
		{
			state.GET("", handler.GetState)
			state.GET("/changes", handler.StateChanges)
		}

		auth := v1.Group("/auth")
		{
			auth.GET("", handler.GetAuth)
			auth.POST("/login", handler.Login)
			auth.POST("/logout", handler.Logout)
			auth.POST("/revalidate", handler.Revalidate)
		}
	}

	return router
}
