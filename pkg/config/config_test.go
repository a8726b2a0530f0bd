package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidateLogLevel(t *testing.T) {
	validLevels := []string{"debug", "info", "warn", "error", "DEBUG", "INFO", "WARN", "ERROR"}
	for _, level := range validLevels {
		if err := ValidateLogLevel(level); err != nil {
			t.Errorf("ValidateLogLevel(%s) returned error: %v", level, err)
		}
	}

	invalidLevels := []string{"", "trace", "fatal", "invalid", "debugging"}
	for _, level := range invalidLevels {
		if err := ValidateLogLevel(level); err == nil {
			t.Errorf("ValidateLogLevel(%s) should return error", level)
		}
	}
}

func TestValidateAddress(t *testing.T) {
	validAddresses := []string{
		"127.0.0.1:3000",
		"0.0.0.0:8080",
		"localhost:3000",
		":3000",
		"[::1]:3000",
	}
	for _, addr := range validAddresses {
		if err := ValidateAddress(addr); err != nil {
			t.Errorf("ValidateAddress(%s) returned error: %v", addr, err)
		}
	}

	invalidAddresses := []string{
		"example.com:3000",     // not IP
		"127.0.0.1",            // no port
		"256.256.256.256:3000", // invalid IP
		"127.0.0.1:999999",     // invalid port
		"127.0.0.1:-1",         // negative port
		"127.0.0.1:",           // missing port
	}
	for _, addr := range invalidAddresses {
		if err := ValidateAddress(addr); err == nil {
			t.Errorf("ValidateAddress(%s) should return error", addr)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notifywatch.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestSetupMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Setup(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if cfg.Path != "" {
		t.Errorf("Path = %q, want empty for defaults", cfg.Path)
	}
	if cfg.Server.Listen != "127.0.0.1:3000" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
	if cfg.Delivery.Method != "ntfy" || cfg.Delivery.Timeout != 10*time.Second {
		t.Errorf("Delivery = %+v", cfg.Delivery)
	}
	if cfg.Delivery.Ntfy.Server != "https://ntfy.sh" {
		t.Errorf("Ntfy.Server = %q", cfg.Delivery.Ntfy.Server)
	}
	if !cfg.Bus.Enabled || !cfg.Journal.Enabled {
		t.Errorf("Bus/Journal defaults = %+v %+v", cfg.Bus, cfg.Journal)
	}
	if cfg.Journal.Path != filepath.Join(cfg.Storage.Dir, "journal.db") {
		t.Errorf("Journal.Path = %q", cfg.Journal.Path)
	}
}

func TestSetupReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
[server]
listen = "0.0.0.0:3100"

[storage]
dir = "`+dir+`"

[logging]
level = "debug"
file = "`+filepath.Join(dir, "notifywatch.log")+`"
max_backups = 5

[delivery]
method = "telegram"
timeout = "3s"

[delivery.telegram]
bot_token = "123:abc"
chat_id = "42"

[bus]
enabled = false

[journal]
enabled = false
`)

	cfg, err := Setup(path)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if cfg.Path != path {
		t.Errorf("Path = %q", cfg.Path)
	}
	if cfg.Server.Listen != "0.0.0.0:3100" || cfg.Logging.Level != "debug" || cfg.Logging.MaxBackups != 5 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Delivery.Method != "telegram" || cfg.Delivery.Timeout != 3*time.Second {
		t.Errorf("Delivery = %+v", cfg.Delivery)
	}
	if cfg.Delivery.Telegram.BotToken != "123:abc" || cfg.Delivery.Telegram.ChatID != "42" {
		t.Errorf("Telegram = %+v", cfg.Delivery.Telegram)
	}
	if cfg.Delivery.Telegram.APIURL != "https://api.telegram.org" {
		t.Errorf("APIURL default lost: %q", cfg.Delivery.Telegram.APIURL)
	}
	if cfg.Bus.Enabled || cfg.Journal.Enabled || cfg.Journal.Path != "" {
		t.Errorf("Bus/Journal = %+v %+v", cfg.Bus, cfg.Journal)
	}
	if cfg.Storage.RulesPath() != filepath.Join(dir, "config.json") ||
		cfg.Storage.IgnorePath() != filepath.Join(dir, "ignore.json") ||
		cfg.Storage.PendingPath() != filepath.Join(dir, "pending_rule.json") {
		t.Errorf("storage paths wrong for %s", dir)
	}
}

func TestSetupEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[delivery.ntfy]
topic = "from-file"
`)
	t.Setenv("NOTIFYWATCH_DELIVERY_NTFY_TOPIC", "from-env")
	t.Setenv("NOTIFYWATCH_SERVER_LISTEN", "127.0.0.1:4000")

	cfg, err := Setup(path)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if cfg.Delivery.Ntfy.Topic != "from-env" {
		t.Errorf("Topic = %q, want env override", cfg.Delivery.Ntfy.Topic)
	}
	if cfg.Server.Listen != "127.0.0.1:4000" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
}

func TestSetupConfigPathFromEnv(t *testing.T) {
	path := writeConfig(t, `
[server]
listen = "127.0.0.1:3999"
`)
	t.Setenv("NOTIFYWATCH_CONFIG", path)
	if got := DefaultPath(); got != path {
		t.Fatalf("DefaultPath() = %q", got)
	}
	cfg, err := Setup("")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:3999" {
		t.Errorf("Listen = %q", cfg.Server.Listen)
	}
}

func TestSetupRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"log level", "[logging]\nlevel = \"loud\"\n", "logging.level"},
		{"listen", "[server]\nlisten = \"nowhere\"\n", "server.listen"},
		{"method", "[delivery]\nmethod = \"pigeon\"\n", "delivery.method"},
		{"timeout", "[delivery]\ntimeout = \"soon\"\n", "delivery.timeout"},
		{"negative backups", "[logging]\nmax_backups = -1\n", "logging.maxbackups"},
		{"bad toml", "[server\n", "read config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Setup(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Setup accepted invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
