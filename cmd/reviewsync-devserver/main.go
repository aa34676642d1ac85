package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentworkforce/reviewsync/internal/devserver"
)

func main() {
	addr := envOrDefault("REVIEWSYNC_DEVSERVER_ADDR", ":8000")
	if !boolEnv("REVIEWSYNC_DEVSERVER_DEBUG", false) {
		gin.SetMode(gin.ReleaseMode)
	}
	server := devserver.New(devserver.Config{
		AutoProcess:  boolEnv("REVIEWSYNC_DEVSERVER_AUTO_PROCESS", true),
		ProcessDelay: durationEnv("REVIEWSYNC_DEVSERVER_PROCESS_DELAY", 500*time.Millisecond),
		AccessLog:    boolEnv("REVIEWSYNC_DEVSERVER_ACCESS_LOG", false),
		Logger:       log.Default(),
	})
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		server.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("reviewsync devserver listening on %s (api root /api)", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %t", name, raw, fallback)
		return fallback
	}
	return value
}
