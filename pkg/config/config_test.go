package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("message-service")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.Name != "message-service" || cfg.Server.Addr != ":21004" {
		t.Errorf("app = %+v, server = %+v", cfg.App, cfg.Server)
	}
	if cfg.Kafka.GroupID != "message-service" {
		t.Errorf("kafka group = %q", cfg.Kafka.GroupID)
	}
	if cfg.Redis.CacheTTL != 5*time.Minute || cfg.Fanout.BreakerThreshold != 5 {
		t.Errorf("redis = %+v, fanout = %+v", cfg.Redis, cfg.Fanout)
	}
	if len(cfg.Server.AllowedOrigins) != 0 {
		t.Errorf("allowed origins = %v, want none", cfg.Server.AllowedOrigins)
	}
}

func TestLoadUnknownService(t *testing.T) {
	if _, err := Load("billing-service"); err == nil {
		t.Error("Load() should reject unknown service")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "trekmate.yaml")
	content := "app:\n  log_level: debug\nredis:\n  addr: redis-file:6379\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", file)
	t.Setenv("REDIS_ADDR", "redis-env:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://trekmate.app,")
	t.Setenv("HTTP_TIMEOUT", "5s")

	cfg, err := Load("group-service")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.LogLevel != "debug" {
		t.Errorf("log level = %q, want value from file", cfg.App.LogLevel)
	}
	if cfg.Redis.Addr != "redis-env:6379" {
		t.Errorf("redis addr = %q, want env value", cfg.Redis.Addr)
	}
	if want := []string{"k1:9092", "k2:9092"}; !reflect.DeepEqual(cfg.Kafka.Brokers, want) {
		t.Errorf("brokers = %v, want %v", cfg.Kafka.Brokers, want)
	}
	if want := []string{"https://trekmate.app"}; !reflect.DeepEqual(cfg.Server.AllowedOrigins, want) {
		t.Errorf("origins = %v, want %v", cfg.Server.AllowedOrigins, want)
	}
	if cfg.Server.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.Server.Timeout)
	}
}
