package routes

import (
	"github.com/gin-gonic/gin"

	"imagedetect/internal/config"
	"imagedetect/internal/handlers"
	"imagedetect/internal/logger"
	"imagedetect/internal/middleware"
	"imagedetect/internal/repository"
	"imagedetect/internal/services/storage"
	"imagedetect/internal/services/websocket"
)

// Dependencies groups what the HTTP layer needs.
type Dependencies struct {
	Images    repository.ImageRepository
	Files     *storage.FileStore
	Scheduler handlers.Scheduler
	Hub       *websocket.HubService
	Logger    *logger.Logger
}

// SetupRoutes registers the image API, the viewer websocket, log endpoints
// and the middleware chain.
func SetupRoutes(deps Dependencies, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(deps.Logger),
		middleware.CORS(),
	)

	r.GET("/healthz", handlers.HealthHandler)

	images := r.Group("/images")
	images.POST("", middleware.RequestSizeLimiter(cfg.MaxUploadSize),
		handlers.UploadImageHandler(deps.Images, deps.Files, deps.Scheduler, deps.Logger))
	images.GET("", handlers.ListImagesHandler(deps.Images, deps.Logger))
	images.GET("/:id", handlers.GetImageHandler(deps.Images, deps.Logger))
	images.GET("/:id/file", handlers.ImageFileHandler(deps.Images, deps.Logger))

	if deps.Hub != nil {
		r.GET("/ws", handlers.ViewWebsocketHandler(deps.Hub, deps.Logger))
	}

	r.GET("/logs/:level", handlers.ShowLogsHandler(deps.Logger))
	r.DELETE("/logs/:level", handlers.ClearLogsHandler(deps.Logger))

	return r
}
