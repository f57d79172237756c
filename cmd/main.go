// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shivanand-hulikatti/converge/internal/config"
	"github.com/Shivanand-hulikatti/converge/internal/database"
	"github.com/Shivanand-hulikatti/converge/internal/handler"
	"github.com/Shivanand-hulikatti/converge/internal/maintenance"
	"github.com/Shivanand-hulikatti/converge/internal/repository"
	"github.com/Shivanand-hulikatti/converge/internal/service"
)

func main() {
	ctx := context.Background()

	// ── 1. Load configuration ────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ── 2. Open the store ────────────────────────────────────────────────
	var store repository.Store
	switch cfg.Store {
	case config.StoreMemory:
		store = repository.NewMemory()
		log.Println("✓ Using in-memory store")
	default:
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer pool.Close()
		log.Println("✓ Connected to PostgreSQL")

		if cfg.Database.Migrate {
			if err := database.RunMigrations(cfg.Database.URL); err != nil {
				log.Fatalf("migrate: %v", err)
			}
		}
		store = repository.NewPostgres(pool)
	}

	// ── 3. Wire up layers ────────────────────────────────────────────────
	bookingSvc := service.NewBookingService(store)
	notifySvc := service.NewNotificationService(store, service.LogSender{})
	h := handler.New(handler.Services{
		Booking:  bookingSvc,
		RSVP:     service.NewRSVPService(store),
		Registry: service.NewRegistryService(store),
		Calendar: service.NewCalendarService(store),
		Notify:   notifySvc,
	})

	// ── 4. Background jobs ───────────────────────────────────────────────
	var jobs []maintenance.Job
	if cfg.SweepSchedule != "" {
		jobs = append(jobs, maintenance.SweepJob(cfg.SweepSchedule, bookingSvc))
	}
	if cfg.NotifySchedule != "" {
		jobs = append(jobs, maintenance.DispatchJob(cfg.NotifySchedule, notifySvc))
	}
	sched, err := maintenance.New(time.Minute, jobs...)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	sched.Start()

	// ── 5. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler.NewRouter(h),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	go func() {
		log.Printf("✓ Server listening on http://localhost:%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Printf("scheduler stop: %v", err)
	}
	log.Println("server stopped")
}
