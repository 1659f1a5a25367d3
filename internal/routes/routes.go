package routes

import (
	"github.com/gin-gonic/gin"

	"taskforest/internal/handlers"
	"taskforest/internal/middleware"
)

// SetupRoutes wires every endpoint. filesDir, when set, is served under
// /files for the disk storage driver.
func SetupRoutes(
	r *gin.Engine,
	taskHandler *handlers.TaskHandler,
	streamHandler *handlers.StreamHandler,
	healthHandler *handlers.HealthHandler,
	jwtSecret []byte,
	filesDir string,
) *gin.Engine {

	// ---- public
	r.GET("/healthz", healthHandler.Health)
	if filesDir != "" {
		r.Static("/files", filesDir)
	}

	// ---- protected
	r.Use(middleware.AuthMiddleware(jwtSecret))

	tasks := r.Group("/tasks")
	{
		tasks.GET("", taskHandler.List)
		tasks.POST("", taskHandler.Create)

		// static segments before :id
		tasks.PATCH("/status", taskHandler.BatchStatus)
		tasks.GET("/stream", streamHandler.SSE)
		tasks.GET("/ws", streamHandler.WS)

		tasks.GET("/:id", taskHandler.Get)
		tasks.PATCH("/:id", taskHandler.Update)
		tasks.DELETE("/:id", taskHandler.Delete)
		tasks.PATCH("/:id/status", taskHandler.UpdateStatus)
		tasks.GET("/:id/events", taskHandler.Events)
		tasks.GET("/:id/export.pdf", taskHandler.Export)
	}

	return r
}
