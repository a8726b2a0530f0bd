// Package config loads configuration for the notification forwarder.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	configEnvVar   = "NOTIFYWATCH_CONFIG"
	envPrefix      = "NOTIFYWATCH"
	appDirName     = "notifywatch"
	configFileName = "notifywatch.toml"

	rulesFileName   = "config.json"
	ignoreFileName  = "ignore.json"
	pendingFileName = "pending_rule.json"
	journalFileName = "journal.db"
)

// Config contains all runtime options of the forwarder.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Bus      BusConfig      `mapstructure:"bus"`
	Journal  JournalConfig  `mapstructure:"journal"`

	// Path is the file the configuration was read from; empty when the
	// defaults were used.
	Path string `mapstructure:"-"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen" validate:"required,listenaddr"`
}

// StorageConfig locates the JSON state files.
type StorageConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// RulesPath is the persisted rule list.
func (s StorageConfig) RulesPath() string { return filepath.Join(s.Dir, rulesFileName) }

// IgnorePath is the persisted ignore list.
func (s StorageConfig) IgnorePath() string { return filepath.Join(s.Dir, ignoreFileName) }

// PendingPath is the persisted pending-rule slot.
func (s StorageConfig) PendingPath() string { return filepath.Join(s.Dir, pendingFileName) }

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"loglevel"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// DeliveryConfig selects the push service. Only the table matching Method
// is decoded.
type DeliveryConfig struct {
	Method   string         `mapstructure:"method" validate:"oneof=ntfy telegram log"`
	Timeout  time.Duration  `mapstructure:"-"`
	Ntfy     NtfyConfig     `mapstructure:"-"`
	Telegram TelegramConfig `mapstructure:"-"`
}

// NtfyConfig holds the [delivery.ntfy] table.
type NtfyConfig struct {
	Server string `mapstructure:"server" validate:"omitempty,url"`
	Topic  string `mapstructure:"topic"`
	Token  string `mapstructure:"token"`
}

// TelegramConfig holds the [delivery.telegram] table.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIURL   string `mapstructure:"api_url" validate:"omitempty,url"`
}

// BusConfig holds desktop bus settings.
type BusConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// JournalConfig holds notification journal settings. An empty Path with
// Enabled set means <storage.dir>/journal.db.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		return ValidateLogLevel(fl.Field().String()) == nil
	})
	_ = v.RegisterValidation("listenaddr", func(fl validator.FieldLevel) bool {
		return ValidateAddress(fl.Field().String()) == nil
	})
	return v
}

// ValidateLogLevel ensures the user-provided log level matches the supported set.
func ValidateLogLevel(level string) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", level)
	}
	return nil
}

// ValidateAddress confirms that an address string has a usable host and TCP
// port. The host may be an IP, "localhost", or empty for all interfaces.
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format %s: %w", addr, err)
	}
	if port == "" {
		return errors.New("invalid port")
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		return fmt.Errorf("invalid IP address: %s", host)
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return fmt.Errorf("invalid port: %s", port)
	}
	return nil
}

// DefaultPath returns $NOTIFYWATCH_CONFIG, or notifywatch.toml in the user
// config directory.
func DefaultPath() string {
	if fromEnv := strings.TrimSpace(os.Getenv(configEnvVar)); fromEnv != "" {
		return fromEnv
	}
	return filepath.Join(userConfigDir(), appDirName, configFileName)
}

// Setup loads the TOML file at path (DefaultPath when empty) and produces a
// Config instance. A missing file yields the defaults.
func Setup(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	loadedFrom := ""
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		loadedFrom = path
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Path = loadedFrom
	cfg.Delivery.Method = strings.ToLower(strings.TrimSpace(cfg.Delivery.Method))

	var err error
	cfg.Delivery.Timeout, err = parseDuration(v.GetString("delivery.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid delivery.timeout: %w", err)
	}
	if err := parseSinkConfig(v, &cfg.Delivery); err != nil {
		return nil, err
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(cfg.Storage.Dir, journalFileName)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:3000")
	v.SetDefault("storage.dir", filepath.Join(userConfigDir(), appDirName))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "stdout")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("delivery.method", "ntfy")
	v.SetDefault("delivery.timeout", "10s")
	v.SetDefault("delivery.ntfy.server", "https://ntfy.sh")
	v.SetDefault("delivery.ntfy.topic", "")
	v.SetDefault("delivery.ntfy.token", "")
	v.SetDefault("delivery.telegram.bot_token", "")
	v.SetDefault("delivery.telegram.chat_id", "")
	v.SetDefault("delivery.telegram.api_url", "https://api.telegram.org")
	v.SetDefault("bus.enabled", true)
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "")
}

func userConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return "."
	}
	return dir
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func parseSinkConfig(v *viper.Viper, cfg *DeliveryConfig) error {
	switch cfg.Method {
	case "ntfy":
		return decodeTable(v, "ntfy", &cfg.Ntfy)
	case "telegram":
		return decodeTable(v, "telegram", &cfg.Telegram)
	}
	return nil
}

func decodeTable(v *viper.Viper, key string, out any) error {
	delivery, _ := v.AllSettings()["delivery"].(map[string]interface{})
	raw, ok := delivery[key]
	if !ok {
		return nil
	}
	subMap, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("delivery.%s must be a table", key)
	}
	if err := mapstructure.Decode(subMap, out); err != nil {
		return fmt.Errorf("parse delivery.%s: %w", key, err)
	}
	return nil
}

func validateConfig(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid %s: failed %q check (value %v)", configKey(verrs[0]), verrs[0].Tag(), verrs[0].Value())
		}
		return fmt.Errorf("validate config: %w", err)
	}
	if cfg.Delivery.Timeout < 0 {
		return errors.New("delivery.timeout must be >= 0")
	}
	return nil
}

// configKey turns "Config.Logging.MaxSizeMB" into "logging.maxsizemb".
func configKey(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	return strings.ToLower(ns)
}
