package utils

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("CHAT_SESSION_ID", "")
	t.Setenv("HISTORY_WINDOW", "")
	t.Setenv("NVIDIA_TEMPERATURE", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Store.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %s", cfg.Store.Backend)
	}
	if cfg.SessionID != "global-chat" {
		t.Fatalf("expected default session id, got %s", cfg.SessionID)
	}
	if cfg.Completion.CredentialEnv != "NVIDIA_API_KEY" {
		t.Fatalf("expected NVIDIA_API_KEY credential env, got %s", cfg.Completion.CredentialEnv)
	}
	if cfg.Completion.Endpoint() != "https://integrate.api.nvidia.com/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %s", cfg.Completion.Endpoint())
	}
	if cfg.Completion.Temperature != 0.5 {
		t.Fatalf("expected temperature 0.5, got %v", cfg.Completion.Temperature)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Pebble")
	t.Setenv("CHAT_SESSION_ID", "room-7")
	t.Setenv("HISTORY_WINDOW", "12")
	t.Setenv("NVIDIA_TIMEOUT", "5s")
	t.Setenv("NVIDIA_API_BASE", "http://upstream.local/v1/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Store.Backend != BackendPebble {
		t.Fatalf("expected pebble backend, got %s", cfg.Store.Backend)
	}
	if cfg.SessionID != "room-7" {
		t.Fatalf("expected session room-7, got %s", cfg.SessionID)
	}
	if cfg.Chat.HistoryWindow != 12 {
		t.Fatalf("expected window 12, got %d", cfg.Chat.HistoryWindow)
	}
	if cfg.Completion.Timeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", cfg.Completion.Timeout)
	}
	if cfg.Completion.Endpoint() != "http://upstream.local/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %s", cfg.Completion.Endpoint())
	}
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "sqlite")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadConfigRejectsNegativeWindow(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("HISTORY_WINDOW", "-3")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for negative history window")
	}
}
