// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every tunable for both the realtime chat server and the REST
// API server. Fields without a default are required.
type Config struct {
	// Realtime server.
	ChatListenAddr string        `envconfig:"CHAT_LISTEN_ADDR" default:":8080"`
	WorkerPoolSize int           `envconfig:"WORKER_POOL_SIZE" default:"256"`
	MaxConnections int           `envconfig:"MAX_CONNECTIONS" default:"100000"`
	ReadTimeout    time.Duration `envconfig:"READ_TIMEOUT" default:"10s"`
	WriteTimeout   time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`

	// REST API server.
	APIListenAddr string `envconfig:"API_LISTEN_ADDR" default:":8081"`

	// Backing services.
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	NatsURL       string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	DatabaseURL   string `envconfig:"DATABASE_URL" required:"true"`
	MigrationsURL string `envconfig:"MIGRATIONS_URL" default:"file://migrations"`

	// Auth.
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	// ServerName identifies this instance in Redis session records when
	// several chat servers run behind a load balancer.
	ServerName string `envconfig:"SERVER_NAME" default:"chat-1"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win over
// file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
