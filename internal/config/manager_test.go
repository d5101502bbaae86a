package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"intakebot/pkg/logx"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvPort, EnvBotToken, EnvDataDir, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"), "", logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.HTTP.Port != 3000 || cfg.Storage.Driver != "file" || cfg.Notifier != def.Notifier {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the parsed config")
	}
}

func TestYAMLOverridesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", `
http:
  port: 8080
storage:
  driver: sqlite
  path: ./intake.db
notifier:
  enabled: false
  rate_per_sec: 5
`)
	cfg, err := NewManager(p, "", logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 8080 || cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "./intake.db" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Notifier.Enabled || cfg.Notifier.RatePerSec != 5 || cfg.Notifier.QueueSize != 64 {
		t.Fatalf("notifier = %+v", cfg.Notifier)
	}
	if cfg.HTTP.PublicDir != "public" {
		t.Fatalf("unset fields must keep defaults, got public_dir=%q", cfg.HTTP.PublicDir)
	}
}

func TestUnknownFieldRejected(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, t.TempDir(), "config.json", `{"http":{"port":1,"prot":2}}`)
	if _, err := NewManager(p, "", logx.Nop()).Load(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestEnvBeatsFile(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, t.TempDir(), "config.json", `{"http":{"port":8080},"telegram":{"token":"from-file"}}`)
	t.Setenv(EnvPort, "9090")
	t.Setenv(EnvBotToken, "from-env")
	t.Setenv(EnvDataDir, "/var/lib/intake")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := NewManager(p, "", logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 9090 || cfg.Telegram.Token != "from-env" || cfg.Storage.Path != "/var/lib/intake" || cfg.Logging.Level != "debug" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestDataDirNamesSQLiteFile(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, t.TempDir(), "config.json", `{"storage":{"driver":"sqlite","path":"./other.db"}}`)
	t.Setenv(EnvDataDir, "/var/lib/intake")

	cfg, err := NewManager(p, "", logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join("/var/lib/intake", SQLiteFileName); cfg.Storage.Path != want {
		t.Fatalf("storage.path = %q, want %q", cfg.Storage.Path, want)
	}
}

func TestEnvFileLoaded(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides a variable that is already set, even to "".
	_ = os.Unsetenv(EnvPort)
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "PORT=7070\n")
	cfg, err := NewManager("", envFile, logx.Nop()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 7070 {
		t.Fatalf("port = %d, want 7070 from .env", cfg.HTTP.Port)
	}
}

func TestInvalidDurationRejected(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, t.TempDir(), "config.json", `{"telegram":{"poll_timeout":"soon"}}`)
	if _, err := NewManager(p, "", logx.Nop()).Load(); err == nil {
		t.Fatal("expected invalid duration error")
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"logging":{"level":"info","console":true}}`)
	m := NewManager(p, "", logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "config.json", `{"logging":{"level":"debug","console":true}}`)

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no config published after file change")
	}
}

func TestSummarizeChange(t *testing.T) {
	oldCfg := Default()
	newCfg := Default()
	newCfg.Logging.Level = "debug"
	newCfg.Notifier.RatePerSec = 1
	newCfg.HTTP.Port = 1

	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := []string{"http", "notifier", "logging"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
	if r := RestartRequired(changed); len(r) != 1 || r[0] != "http" {
		t.Fatalf("restart required = %v", r)
	}
}
