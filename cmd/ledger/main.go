package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/terminal-bench/tradeengine/internal/ledgerreference"
	"github.com/terminal-bench/tradeengine/internal/ledgerstore"
	"github.com/terminal-bench/tradeengine/pkg/messaging"
)

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func main() {
	port := getEnv("PORT", "8008")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	dbURL := getEnv("DATABASE_URL", "postgres://localhost/tradeengine_ledger?sslmode=disable")

	store, err := ledgerstore.Open(dbURL)
	if err != nil {
		log.Fatalf("Failed to open ledger store: %v", err)
	}
	defer store.Close()

	natsClient, err := messaging.NewClient(messaging.Config{
		URL:            natsURL,
		Name:           "ledger-service",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsClient.Close()

	service := ledgerreference.New(natsClient, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := service.Start(ctx); err != nil {
			log.Fatalf("ledger reference service stopped: %v", err)
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{Addr: ":" + port, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	log.Printf("Ledger reference service started on port %s", port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down ledger reference service...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
}
