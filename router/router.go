package router

import (
	"net/http"

	"github.com/clinsys/capture-service/handler"
	ginmetrics "github.com/clinsys/capture-service/pkg/metrics/gin"
	"github.com/gin-gonic/gin"
)

func Setup(taskHandler *handler.TaskHandler, sessionHandler *handler.SessionHandler) *gin.Engine {
	r := gin.Default()
	r.Use(ginmetrics.PrometheusMiddleware("capture-service"))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		capture := api.Group("/capture")
		{
			capture.POST("/tasks", taskHandler.StartCapture)
			capture.GET("/tasks/last", taskHandler.GetLastTask)
			capture.GET("/tasks/:id", taskHandler.GetTask)
		}
		sessoes := api.Group("/sessoes")
		{
			sessoes.GET("", sessionHandler.ListSessions)
			sessoes.GET("/:id/logs", sessionHandler.GetSessionLogs)
			sessoes.GET("/:id/snapshot", sessionHandler.GetSessionSnapshot)
			sessoes.POST("/reprocessar", sessionHandler.ReprocessSession)
		}
	}
	return r
}
