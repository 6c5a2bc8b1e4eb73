package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes wires every handler into router under /v1, following
// the teacher's RegisterRoutes(router, api) shape
// (internal/task_ingestion_service/api/router.go). Health endpoints sit
// outside auth so orchestrators can probe them without a token.
func RegisterRoutes(router *gin.Engine, a *API, authToken string) {
	router.GET("/health", a.Health)
	router.GET("/health/readiness", a.Readiness)

	v1 := router.Group("/v1")
	v1.Use(AuthMiddleware(authToken))
	{
		v1.POST("/tasks", a.SubmitTask)
		v1.GET("/tasks/ready", a.PollReady)
		v1.POST("/results", a.ReportResult)
		v1.POST("/tasks/:workflow_id/:step_id/heartbeat", a.Heartbeat)
		v1.GET("/workflows/:id", a.GetWorkflow)
		v1.GET("/workflows/:id/status", a.GetWorkflowStatus)
		v1.GET("/projects/:id", a.GetProject)
	}
}
