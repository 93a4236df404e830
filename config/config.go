package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all relay configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Relay   RelayConfig   `yaml:"relay"`
	Redis   RedisConfig   `yaml:"redis"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"SERVER_ADDR"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// RelayConfig holds per-connection limits and the endpoint paths of the
// two protocol variants
type RelayConfig struct {
	RosterPath      string        `yaml:"roster_path" env:"RELAY_ROSTER_PATH"`
	WorkspacePath   string        `yaml:"workspace_path" env:"RELAY_WORKSPACE_PATH"`
	SendQueueSize   int           `yaml:"send_queue_size" env:"RELAY_SEND_QUEUE_SIZE"`
	MaxSendFailures int           `yaml:"max_send_failures" env:"RELAY_MAX_SEND_FAILURES"`
	MaxMessageSize  int64         `yaml:"max_message_size" env:"RELAY_MAX_MESSAGE_SIZE"`
	JoinTimeout     time.Duration `yaml:"join_timeout" env:"RELAY_JOIN_TIMEOUT"`
	PongWait        time.Duration `yaml:"pong_wait" env:"RELAY_PONG_WAIT"`
	WriteWait       time.Duration `yaml:"write_wait" env:"RELAY_WRITE_WAIT"`
}

// RedisConfig configures the optional cross-instance bus. An empty Addr
// disables it.
type RedisConfig struct {
	Addr           string        `yaml:"addr" env:"REDIS_ADDR"`
	Password       string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB             int           `yaml:"db" env:"REDIS_DB"`
	ChannelPrefix  string        `yaml:"channel_prefix" env:"REDIS_CHANNEL_PREFIX"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"REDIS_PUBLISH_TIMEOUT"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// Load builds the configuration from defaults, an optional YAML file and
// environment overrides, in that order.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromYAML(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config from YAML: %w", err)
		}
	}

	if err := overrideWithEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to override with environment variables: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Relay: RelayConfig{
			RosterPath:      "/rooms",
			WorkspacePath:   "/",
			SendQueueSize:   256,
			MaxSendFailures: 8,
			MaxMessageSize:  1 << 20,
			JoinTimeout:     10 * time.Second,
			PongWait:        60 * time.Second,
			WriteWait:       10 * time.Second,
		},
		Redis: RedisConfig{
			ChannelPrefix:  "codestream",
			PublishTimeout: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for values the relay cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Relay.RosterPath == "" || c.Relay.WorkspacePath == "" {
		errs = append(errs, errors.New("relay.roster_path and relay.workspace_path are required"))
	} else if c.Relay.RosterPath == c.Relay.WorkspacePath {
		errs = append(errs, fmt.Errorf("relay.roster_path and relay.workspace_path must differ (both %q)", c.Relay.RosterPath))
	}
	if c.Relay.SendQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("relay.send_queue_size must be positive, got %d", c.Relay.SendQueueSize))
	}
	if c.Relay.MaxSendFailures < 0 {
		errs = append(errs, fmt.Errorf("relay.max_send_failures must not be negative, got %d", c.Relay.MaxSendFailures))
	}
	if c.Relay.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("relay.max_message_size must be positive, got %d", c.Relay.MaxMessageSize))
	}
	if c.Relay.JoinTimeout <= 0 || c.Relay.PongWait <= 0 || c.Relay.WriteWait <= 0 {
		errs = append(errs, errors.New("relay timeouts must be positive"))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// loadFromYAML loads configuration from a YAML file
func loadFromYAML(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// overrideWithEnv applies env-tagged overrides, then PORT for platforms
// that only hand out a port number.
func overrideWithEnv(cfg *Config) error {
	if err := overrideStructWithEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return err
	}
	if port := os.Getenv("PORT"); port != "" && os.Getenv("SERVER_ADDR") == "" {
		cfg.Server.Addr = ":" + port
	}
	return nil
}

// overrideStructWithEnv recursively overrides struct fields with environment variables
func overrideStructWithEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := overrideStructWithEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldFromString(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s from env %s: %w", fieldType.Name, envTag, err)
		}
	}
	return nil
}

// setFieldFromString sets a struct field value from a string based on the field type
func setFieldFromString(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value: %s", value)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid int value: %s", value)
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type())
		}
		field.Set(reflect.ValueOf(splitCSV(value)))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// splitCSV trims and filters a comma-separated list
func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
