package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"gopkg.in/natefinch/lumberjack.v2"

	"pulsehub/config"
	"pulsehub/handlers"
	"pulsehub/internal/database"
	"pulsehub/services/assignment"
	"pulsehub/services/devices"
	"pulsehub/services/events"
	"pulsehub/services/users"
	"pulsehub/utils"
)

func main() {
	configPath := flag.String("config", "settings.json", "path to the settings file")
	flag.Parse()

	cfg := config.NewManager(*configPath)
	settings, err := cfg.Load()
	if err != nil {
		log.Fatalf("[server] failed to load settings: %v", err)
	}

	setupLogging(settings.Log)

	db, err := database.NewDB(database.Config{DatabasePath: settings.Database.Path})
	if err != nil {
		log.Fatalf("[server] failed to open database: %v", err)
	}
	defer db.Close()

	notifier := events.NewNotifier()
	store := db.Repository

	usersService := users.NewService(store, notifier)
	devicesService := devices.NewService(store, notifier,
		time.Duration(settings.Pairing.DelaySeconds)*time.Second)
	assignmentService := assignment.NewService(store, devicesService, usersService, notifier)
	usersService.SetDeviceReleaser(assignmentService)

	router := utils.NewRouter()
	handlers.NewUsersHandler(usersService).Register(router)
	handlers.NewDevicesHandler(devicesService, assignmentService, usersService).Register(router)
	handlers.NewAssignmentHandler(assignmentService).Register(router)
	handlers.NewAuthHandler(usersService,
		time.Duration(settings.Auth.OTPTTLSeconds)*time.Second).Register(router)

	srv := &http.Server{
		Addr:    settings.Server.ListenAddr,
		Handler: router,
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		log.Printf("[server] listening on %s", settings.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] listen failed: %v", err)
		}
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("[server] shutting down")
	devicesService.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] shutdown: %v", err)
	}
	wg.Wait()
}

// setupLogging routes the default loggers through rotation when a log file is
// configured.
func setupLogging(cfg config.LogSettings) {
	if cfg.File == "" {
		return
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	out := io.MultiWriter(os.Stdout, rotator)
	log.SetOutput(out)
	slog.SetDefault(slog.New(slog.NewTextHandler(out, nil)))
}
