package routes

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/kay-darko/vybe/internal/container"
	"github.com/kay-darko/vybe/internal/handlers"
	"github.com/kay-darko/vybe/internal/middleware"
)

// SetupRoutes configures all routes with the dependency container
func SetupRoutes(container *container.Container) *gin.Engine {
	// Set Gin mode for production
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// Add middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.StructuredLogger(container.Logger))
	r.Use(middleware.ErrorHandler(container.Logger))
	r.Use(gin.Recovery())

	// API version 1
	v1 := r.Group("/api/v1")
	{
		// Health check
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "OK",
				"service": "vybe-api",
			})
		})

		// public routes
		v1.GET("/events/:id/timeline", handlers.GetTimeline(container.LiveService))
		v1.POST("/events/:id/feedback/anonymous", handlers.SubmitAnonymousRating(container.LiveService))
	}

	protected := v1.Group("/")
	protected.Use(middleware.AuthMiddleware(container.Logger))

	eventRoutes := protected.Group("/events")
	{
		eventRoutes.POST("/:id/feedback", handlers.SubmitLiveRating(container.LiveService))
		eventRoutes.PUT("/:id/interest", handlers.MarkInterested(container.LiveService))
		eventRoutes.PUT("/:id/reserve", handlers.Reserve(container.LiveService))
		eventRoutes.POST("/:id/discussion", handlers.AddDiscussionComment(container.LiveService))
		eventRoutes.POST("/:id/updates", handlers.PublishUpdate(container.LiveService))
	}

	// Scheduler trigger endpoints, hit by the external cron caller.
	triggers := r.Group("/internal/schedulers")
	triggers.Use(middleware.TriggerAuth(container.Config.TriggerSecret, container.Logger))
	{
		triggers.POST("/peak", handlers.Trigger(container.PeakScheduler))
		triggers.POST("/wrapup", handlers.Trigger(container.WrapupScheduler))
		triggers.POST("/reminders", handlers.Trigger(container.ReminderScheduler))
		triggers.POST("/updates", handlers.Trigger(container.UpdateDispatcher))
	}

	return r
}
