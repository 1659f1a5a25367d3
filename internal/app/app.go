package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "taskforest/docs"
	"taskforest/internal/config"
	"taskforest/internal/handlers"
	"taskforest/internal/middleware"
	"taskforest/internal/pdf"
	"taskforest/internal/realtime"
	"taskforest/internal/repositories"
	"taskforest/internal/routes"
	"taskforest/internal/services"
	"taskforest/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Run serves the API until ctx is cancelled, then drains connections and
// closes every live subscriber.
func Run(ctx context.Context, cfg *config.Config) error {
	// === DB ===
	db, err := repositories.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("[app][db][close][err] %v", err)
		}
	}()

	// === Repos / storage ===
	taskRepo := repositories.NewTaskRepository(db)
	objects, filesDir := objectStore(cfg.Storage)

	// === Services ===
	hub := realtime.NewHub(cfg.Realtime.PingInterval)
	taskService := services.NewTaskService(taskRepo, objects, hub, services.Options{
		MaxImageBytes: cfg.Uploads.MaxBytes,
	})
	exporter := pdf.NewTreeExporter(cfg.PDF.FontPath)

	// === Handlers ===
	taskHandler := handlers.NewTaskHandler(taskService, exporter, cfg.Uploads.MaxBytes)
	streamHandler := handlers.NewStreamHandler(hub, cfg.Server.CORSOrigins, cfg.Realtime.PingInterval)
	healthHandler := handlers.NewHealthHandler(db)

	// === Gin ===
	router := gin.New()
	router.Use(middleware.AccessLogger(gin.DefaultWriter))
	router.Use(gin.Recovery())

	// Swagger
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	routes.SetupRoutes(router, taskHandler, streamHandler, healthHandler, []byte(cfg.Auth.JWTSecret), filesDir)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           corsHandler(cfg.Server.CORSOrigins).Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[app] listening on %s (storage=%s)", srv.Addr, cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stopHub()
		<-hubDone
		return err
	case <-ctx.Done():
	}

	log.Printf("[app] shutting down")
	// long-lived streams only end once the hub closes their sinks
	stopHub()
	<-hubDone
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// Migrate applies the database schema and exits.
func Migrate(ctx context.Context, cfg *config.Config) error {
	db, err := repositories.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if err := repositories.Migrate(ctx, db); err != nil {
		return err
	}
	log.Printf("[app][migrate] schema applied")
	return nil
}

// objectStore picks the image backend. The returned directory is non-empty
// only for the disk driver, whose files the API serves itself.
func objectStore(sc config.StorageConfig) (storage.ObjectStore, string) {
	if sc.Driver == "http" {
		return storage.NewHTTPStore(sc.BaseURL, sc.Bucket, sc.Token, sc.PublicURL), ""
	}
	return storage.NewDiskStore(sc.RootDir, sc.PublicURL), sc.RootDir
}

func corsHandler(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
}
