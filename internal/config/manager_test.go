package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
  admin_user_ids: [1, 2]
logging:
  level: debug
  console: true
storage:
  path: ./data/opsbot.db
scheduler:
  workers: 4
  default_timeout: "30s"
  timezone: Europe/Warsaw
missions:
  maker_user_ids: [3]
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Scheduler.Workers != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}

	if !cfg.IsMissionMaker(3) || !cfg.IsMissionMaker(1) {
		t.Fatal("maker and admin must both count as mission makers")
	}
	if cfg.IsMissionMaker(99) || cfg.IsAdmin(3) {
		t.Fatal("unlisted users must not gain roles")
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  tokken_typo: "x"
storage:
  path: ./db
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestParseRejectsMissingToken(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", `{"telegram":{},"storage":{"path":"./db"}}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("missing token accepted")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: "soon"
storage:
  path: ./db
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("bad duration accepted")
	}
}
