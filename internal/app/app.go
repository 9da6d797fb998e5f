package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"imagedetect/internal/config"
	"imagedetect/internal/logger"
	"imagedetect/internal/repository/sqlstore"
	"imagedetect/internal/routes"
	"imagedetect/internal/services"
	"imagedetect/internal/services/ai"
	"imagedetect/internal/services/storage"
	"imagedetect/internal/services/websocket"
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlstore.DB
	detector   *ai.DetectorService
	hubService *websocket.HubService
	manager    *services.Manager
	router     *gin.Engine
}

// NewApp loads configuration and wires storage, detection and HTTP.
// A model that fails to load is logged and every run is recorded as failed.
func NewApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlstore.New(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var model ai.Model
	netModel, err := ai.LoadNetModel(cfg.ModelPath, cfg.ModelConfigPath, cfg.ModelInputSize)
	if err != nil {
		log.Warning("Detection model not loaded: %v", err)
	} else {
		model = netModel
	}
	detector := ai.NewDetectorService(model, cfg, log)

	images := sqlstore.NewImageRepository(db)
	detections := sqlstore.NewDetectionRepository(db)
	hub := websocket.NewHubService(log)
	manager := services.NewManager(detector, images, detections, hub, cfg, log)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := routes.SetupRoutes(routes.Dependencies{
		Images:    images,
		Files:     storage.NewFileStore(cfg.ImageDirectory),
		Scheduler: manager,
		Hub:       hub,
		Logger:    log,
	}, cfg)

	return &App{
		config:     cfg,
		logger:     log,
		db:         db,
		detector:   detector,
		hubService: hub,
		manager:    manager,
		router:     router,
	}, nil
}

// Run serves HTTP until SIGINT or SIGTERM, then drains requests and
// detection runs within the shutdown timeout.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hubService.Run(hubCtx)

	server := &http.Server{
		Addr:              a.config.ServerAddress(),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Image detection server listening on %s", server.Addr)
		a.logger.Info("Images: %s, database: %s (%s)", a.config.ImageDirectory, a.config.DatabaseDSN, a.config.DatabaseDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case err := <-serverErr:
		runErr = err
	case <-ctx.Done():
		a.logger.Info("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server forced to shutdown: %v", err)
	}
	stopHub()

	a.drain(shutdownCtx)
	return runErr
}

// drain waits for detection runs, then releases the model and the database.
// Runs still in flight when ctx expires keep both open so their writes can
// land. Reports whether everything was released.
func (a *App) drain(ctx context.Context) bool {
	if err := a.manager.Stop(ctx); err != nil {
		a.logger.Error("Detection runs did not finish, leaving database and model open: %v", err)
		return false
	}

	if err := a.detector.Close(); err != nil {
		a.logger.Error("Failed to release model: %v", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database: %v", err)
	}
	a.logger.Info("Server exited")
	a.logger.Close()
	return true
}
