package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("api port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Auth.AccessTokenTTL != 15*time.Minute {
		t.Errorf("access token ttl = %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.AI.Provider != "anthropic" {
		t.Errorf("ai provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.AnalysisRateLimitPerHour != 10 {
		t.Errorf("analysis rate limit = %d, want 10", cfg.AI.AnalysisRateLimitPerHour)
	}
	if cfg.Stripe.Currency != "usd" {
		t.Errorf("stripe currency = %q", cfg.Stripe.Currency)
	}
	if cfg.Upload.MaxBytes != 5*1024*1024 {
		t.Errorf("upload max bytes = %d", cfg.Upload.MaxBytes)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("API_PORT", "9090")
	t.Setenv("AI_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("STRIPE_UPLOAD_PRICE_USD", "9.99")
	t.Setenv("AUTH_ACCESS_TOKEN_TTL", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("api port = %d, want 9090", cfg.API.Port)
	}
	if cfg.AI.Provider != "openai" || cfg.AI.OpenAIAPIKey != "sk-test" {
		t.Errorf("ai config = %+v", cfg.AI)
	}
	if cfg.Stripe.PriceUSD != 9.99 {
		t.Errorf("stripe price = %v", cfg.Stripe.PriceUSD)
	}
	if cfg.Auth.AccessTokenTTL != 30*time.Minute {
		t.Errorf("access token ttl = %v", cfg.Auth.AccessTokenTTL)
	}
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	t.Setenv("AI_PROVIDER", "gemini")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, Name: "resumatch",
		User: "app", Password: "secret", SSLMode: "disable",
	}
	want := "host=db port=5432 user=app password=secret dbname=resumatch sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "redis", Port: 6379}
	if got := r.Addr(); got != "redis:6379" {
		t.Errorf("Addr() = %q", got)
	}
}
