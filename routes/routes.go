package routes

import (
	"carebell-backend/config"
	"carebell-backend/controllers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func SetupRouter(rc *controllers.ReminderController, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(config.PerformanceLogger(logger))

	r.GET("/healthz", rc.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		reminders := api.Group("/reminders")
		{
			reminders.POST("/run-cycle", rc.RunCycle)
			reminders.POST("/follow-up", rc.FollowUp)
		}

		api.POST("/reminder-occurrences/:id/responses", rc.Respond)
	}

	return r
}
