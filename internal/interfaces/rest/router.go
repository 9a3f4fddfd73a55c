package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nexusflow/backend/internal/application/services"
	"github.com/nexusflow/backend/internal/interfaces/middleware"
	"github.com/nexusflow/backend/pkg/auth"
)

// NewRouter builds the HTTP surface of the engine
func NewRouter(svc *services.ServiceManager, authenticator *auth.Authenticator) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// CORS middleware - Allow credentials from any origin
	router.Use(middleware.Cors())
	router.Use(middleware.APIVersion())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"server":      "nexusflow",
			"subscribers": svc.Broadcaster.TotalSubscribers(),
			"scheduler":   svc.Scheduler.Enabled(),
		})
	})

	runHandler := NewRunHandler(svc)
	stepHandler := NewStepHandler(svc)
	scheduleHandler := NewScheduleHandler(svc)
	ddrHandler := NewDDRHandler(svc)
	eventHandler := NewEventHandler(svc)

	requireAuth := middleware.RequireAuth(authenticator)

	api := router.Group("/api")
	api.Use(requireAuth)
	{
		api.GET("/events/stream", eventHandler.Stream)

		runs := api.Group("/runs")
		{
			runs.POST("", runHandler.StartRun)
			runs.GET("/:id", runHandler.GetRun)
			runs.POST("/:id/cancel", runHandler.CancelRun)
			runs.POST("/:id/pause", runHandler.PauseRun)
			runs.POST("/:id/resume", runHandler.ResumeRun)
		}

		steps := api.Group("/steps")
		{
			steps.POST("/:id/complete", stepHandler.CompleteStep)
			steps.POST("/:id/auto-execute", stepHandler.AutoExecuteStep)
			steps.POST("/:id/retry", stepHandler.RetryStep)
			steps.POST("/:id/assign", stepHandler.AssignStep)
		}

		schedules := api.Group("/schedules")
		{
			schedules.GET("", scheduleHandler.ListSchedules)
			schedules.POST("", scheduleHandler.CreateSchedule)
			schedules.DELETE("/:id", scheduleHandler.DeleteSchedule)
		}

		api.POST("/ddr/resolve", ddrHandler.Resolve)
	}

	return router
}
