package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleTOML = `
mode = "trade"
log_level = "debug"

[engine]
min_net_profit_cents = 7
max_quote_age = "45s"

[risk]
max_daily_loss_cents = 2000

[[pairs]]
name = "btc-5pm"
polymarket_token = "tok-abc"
kalshi_ticker = "KXBTC-25SEP01"
expires_at = 2026-09-01T17:00:00Z
poly_fifteen_minute = false
kalshi_index_market = true

[[pairs]]
name = "eth-5pm"
polymarket_token = "tok-def"
kalshi_ticker = "KXETH-25SEP01"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "trade" || cfg.LogLevel != "debug" {
		t.Fatalf("mode/log_level = %s/%s", cfg.Mode, cfg.LogLevel)
	}
	if cfg.Engine.MinNetProfitCents != 7 {
		t.Fatalf("min_net_profit_cents = %d", cfg.Engine.MinNetProfitCents)
	}
	if cfg.Engine.MaxQuoteAge.Duration != 45*time.Second {
		t.Fatalf("max_quote_age = %s", cfg.Engine.MaxQuoteAge)
	}
	// Untouched sections keep their defaults.
	if cfg.Engine.PriceFloorCents != 2 {
		t.Fatalf("price_floor_cents default = %d", cfg.Engine.PriceFloorCents)
	}
	if cfg.Execution.ContractsPerTrade != 10 {
		t.Fatalf("contracts_per_trade default = %d", cfg.Execution.ContractsPerTrade)
	}

	if len(cfg.Pairs) != 2 {
		t.Fatalf("pairs = %d", len(cfg.Pairs))
	}
	p := cfg.Pairs[0]
	if p.Name != "btc-5pm" || !p.KalshiIndexMarket || p.PolyFifteenMinute {
		t.Fatalf("pair[0] = %+v", p)
	}
	if p.ExpiresAt == nil || !p.ExpiresAt.Equal(time.Date(2026, 9, 1, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("pair[0].ExpiresAt = %v", p.ExpiresAt)
	}
	if cfg.Pairs[1].ExpiresAt != nil {
		t.Fatalf("pair[1].ExpiresAt = %v, want nil", cfg.Pairs[1].ExpiresAt)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAIRARB_MODE", "monitor")
	t.Setenv("PAIRARB_ENGINE_MIN_NET_PROFIT_CENTS", "12")
	t.Setenv("PAIRARB_POSTGRES_DSN", "postgres://x:y@localhost:5432/pairarb")
	t.Setenv("PAIRARB_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(writeConfig(t, sampleTOML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "monitor" {
		t.Fatalf("mode = %s, want env override", cfg.Mode)
	}
	if cfg.Engine.MinNetProfitCents != 12 {
		t.Fatalf("min_net_profit_cents = %d, want 12", cfg.Engine.MinNetProfitCents)
	}
	if !cfg.Postgres.Enabled() {
		t.Fatal("postgres not enabled by DSN override")
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[0] != want[0] || cfg.Server.CORSOrigins[1] != want[1] {
		t.Fatalf("cors_origins = %v", cfg.Server.CORSOrigins)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "yolo"
	cfg.Pairs = []PairConfig{
		{Name: "a", PolymarketToken: "t", KalshiTicker: "k"},
		{Name: "a", PolymarketToken: "t2", KalshiTicker: "k2"},
		{Name: "b", PolymarketToken: "", KalshiTicker: "k3"},
	}
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown mode", "duplicate name", "polymarket_token", "telegram_chat_id"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestValidateRequiresPairs(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "at least one matched pair") {
		t.Fatalf("err = %v, want pairs requirement", err)
	}
}
