package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/irmaverse")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ChatListenAddr != ":8080" {
		t.Errorf("ChatListenAddr default: got %q", cfg.ChatListenAddr)
	}
	if cfg.WorkerPoolSize != 256 {
		t.Errorf("WorkerPoolSize default: got %d", cfg.WorkerPoolSize)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Errorf("TokenTTL default: got %s", cfg.TokenTTL)
	}
	if cfg.DatabaseURL != "postgres://localhost/irmaverse" {
		t.Errorf("DatabaseURL: got %q", cfg.DatabaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/irmaverse")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("CHAT_LISTEN_ADDR", ":9000")
	t.Setenv("READ_TIMEOUT", "5s")
	t.Setenv("SERVER_NAME", "chat-7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ChatListenAddr != ":9000" {
		t.Errorf("ChatListenAddr: got %q", cfg.ChatListenAddr)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout: got %s", cfg.ReadTimeout)
	}
	if cfg.ServerName != "chat-7" {
		t.Errorf("ServerName: got %q", cfg.ServerName)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	// t.Setenv registers restoration; Unsetenv then simulates a truly
	// absent variable.
	t.Setenv("DATABASE_URL", "placeholder")
	t.Setenv("JWT_SECRET", "placeholder")
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("JWT_SECRET")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when required variables are unset")
	}
}
