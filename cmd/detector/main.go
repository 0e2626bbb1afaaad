package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/snfwatch/billwatch/internal/ai"
	"github.com/snfwatch/billwatch/internal/config"
	"github.com/snfwatch/billwatch/internal/notifications"
	"github.com/snfwatch/billwatch/internal/pipeline"
	"github.com/snfwatch/billwatch/internal/scheduler"
	"github.com/snfwatch/billwatch/internal/sources"
	"github.com/snfwatch/billwatch/internal/storage"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting bill change detector")

	tables, err := config.LoadTables(cfg.TablesFile)
	if err != nil {
		logrus.Fatalf("Failed to load tables: %v", err)
	}

	repo, err := storage.OpenRepository(cfg.DatabasePath)
	if err != nil {
		logrus.Fatalf("Failed to open record store: %v", err)
	}
	defer repo.Close()

	archive, err := storage.OpenArchive(cfg.StorageAccount, cfg.StorageContainer, cfg.ArchiveDir)
	if err != nil {
		logrus.Fatalf("Failed to initialize archive: %v", err)
	}

	notificationService := notifications.NewService(cfg)
	source := sources.NewFeedSource(cfg.BillFeedURL, cfg.BillFeedAPIKey)
	if !source.IsEnabled() {
		logrus.Warn("BILL_FEED_URL not set; sweeps will fail until a feed is configured")
	}

	var aiClient *ai.Client
	if cfg.AIEnabled() {
		aiClient = ai.NewClient(cfg.AIEndpoint, cfg.AIModel, cfg.AIAPIKey)
	} else {
		logrus.Info("AI endpoint not configured; using keyword scoring only")
	}

	detector, err := pipeline.FromConfig(cfg, tables, repo, archive, notificationService, source, aiClient)
	if err != nil {
		logrus.Fatalf("Failed to initialize pipeline: %v", err)
	}

	warmCtx, warmCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := detector.WarmStart(warmCtx); err != nil {
		logrus.Warnf("Warm start incomplete: %v", err)
	}
	warmCancel()

	schedulerService := scheduler.NewService(cfg)
	if err := schedulerService.RegisterJobs(detector); err != nil {
		logrus.Fatalf("Failed to register tasks: %v", err)
	}
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheckHandler(detector, schedulerService)).Methods("GET")
	router.HandleFunc("/status", statusHandler(detector, schedulerService)).Methods("GET")
	router.HandleFunc("/metrics", metricsHandler(detector)).Methods("GET")
	router.HandleFunc("/trigger/{task}", triggerHandler(schedulerService)).Methods("POST")
	router.HandleFunc("/tasks/{task}/enable", enableHandler(schedulerService)).Methods("POST")
	router.HandleFunc("/tasks/{task}/disable", disableHandler(schedulerService)).Methods("POST")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func healthCheckHandler(detector *pipeline.Service, sched *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics := detector.Stats().Snapshot()
		degraded := sched.Status().Degraded

		status := "healthy"
		code := http.StatusOK
		switch {
		case !metrics.LastHealthCheck.IsZero() && !metrics.Healthy:
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		case len(degraded) > 0:
			status = "degraded"
		}

		writeJSON(w, code, map[string]interface{}{
			"status":       status,
			"timestamp":    time.Now().Format(time.RFC3339),
			"ai_available": metrics.AIAvailable,
			"degraded":     degraded,
		})
	}
}

func statusHandler(detector *pipeline.Service, sched *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"detector":  detector.Status(),
			"scheduler": sched.Status(),
		})
	}
}

func metricsHandler(detector *pipeline.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics := detector.GetMetrics()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(metrics))
	}
}

func triggerHandler(sched *scheduler.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task := mux.Vars(r)["task"]
		if _, err := sched.Task(task); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}

		go func() {
			if err := sched.RunNow(task); err != nil {
				logrus.WithField("task", task).Errorf("Manual trigger failed: %v", err)
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"message": fmt.Sprintf("Task %s triggered", task)})
	}
}

func enableHandler(sched *scheduler.Service) http.HandlerFunc {
	return taskToggleHandler(sched.Enable, "enabled")
}

func disableHandler(sched *scheduler.Service) http.HandlerFunc {
	return taskToggleHandler(sched.Disable, "disabled")
}

func taskToggleHandler(toggle func(string) error, verb string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task := mux.Vars(r)["task"]
		if err := toggle(task); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, scheduler.ErrUnknownTask) {
				code = http.StatusNotFound
			}
			writeJSON(w, code, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Task %s %s", task, verb)})
	}
}
