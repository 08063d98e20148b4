package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "walletd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  hmac_secret: topsecret
  clock_skew: 30s
directory:
  assets:
    - symbol: USDC
      price_usd: "1"
  venues:
    - id: 1
      type: vault
      asset: USDC
      share_token: vUSDC
      custody: "0x00000000000000000000000000000000000000c1"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7080" || cfg.Journal.Driver != "sqlite" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Auth.ClockSkew.Duration != 30*time.Second {
		t.Fatalf("unexpected clock skew: %s", cfg.Auth.ClockSkew)
	}
	if cfg.RateLimits.Read.Burst != 60 || cfg.RateLimits.Relay.RequestsPerMinute != 120 {
		t.Fatalf("unexpected rate limits: %+v", cfg.RateLimits)
	}
	if len(cfg.Directory.Venues) != 1 || cfg.Directory.Venues[0].ShareToken != "vUSDC" {
		t.Fatalf("unexpected venues: %+v", cfg.Directory.Venues)
	}
}

func TestSecretPrefersEnvironment(t *testing.T) {
	t.Setenv("WALLETD_TEST_SECRET", "from-env")
	auth := AuthConfig{HMACSecret: "inline", SecretEnv: "WALLETD_TEST_SECRET"}
	if got := auth.Secret(); got != "from-env" {
		t.Fatalf("expected env secret, got %q", got)
	}
	auth.SecretEnv = "WALLETD_TEST_UNSET"
	if got := auth.Secret(); got != "inline" {
		t.Fatalf("expected inline secret, got %q", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"missing secret": {
			body: "directory:\n  assets:\n    - symbol: USDC\n",
			want: "hmac secret",
		},
		"bad driver": {
			body: "auth:\n  hmac_secret: s\njournal:\n  driver: mysql\n  dsn: x\ndirectory:\n  assets:\n    - symbol: USDC\n",
			want: "unsupported driver",
		},
		"duplicate venue": {
			body: "auth:\n  hmac_secret: s\ndirectory:\n  assets:\n    - symbol: USDC\n  venues:\n    - id: 2\n      type: pool\n    - id: 2\n      type: vault\n",
			want: "duplicate venue",
		},
		"unknown venue type": {
			body: "auth:\n  hmac_secret: s\ndirectory:\n  assets:\n    - symbol: USDC\n  venues:\n    - id: 2\n      type: bridge\n",
			want: "unknown type",
		},
		"webhook without secret": {
			body: "auth:\n  hmac_secret: s\ndirectory:\n  assets:\n    - symbol: USDC\nwebhooks:\n  - url: http://hooks\n",
			want: "webhooks[0]",
		},
		"bad duration": {
			body: "auth:\n  hmac_secret: s\n  clock_skew: soon\n",
			want: "parse duration",
		},
		"unknown field": {
			body: "auth:\n  hmac_secret: s\nlisten_addr: x\n",
			want: "listen_addr",
		},
	}
	for name, tc := range cases {
		_, err := Load(writeConfig(t, tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected %q error, got %v", name, tc.want, err)
		}
	}
}
