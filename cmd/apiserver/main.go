// Command apiserver runs the REST persistence API: conversations, message
// history, user search, and material invites, backed by PostgreSQL.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Raditt10/IRMA-Verse/internal/auth"
	"github.com/Raditt10/IRMA-Verse/internal/config"
	"github.com/Raditt10/IRMA-Verse/internal/httpapi"
	"github.com/Raditt10/IRMA-Verse/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	tokens, err := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("auth error: %v", err)
	}

	if err := store.Migrate(cfg.DatabaseURL, cfg.MigrationsURL); err != nil {
		log.Fatalf("migrate error: %v", err)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	defer st.Close()

	serverConfig := httpapi.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.APIListenAddr
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout

	server := httpapi.NewServer(serverConfig, st, tokens)

	log.Printf("IRMA-Verse API server starting")
	log.Printf("  listen_addr:  %s", serverConfig.ListenAddr)
	log.Printf("  migrations:   %s", cfg.MigrationsURL)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := st.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
