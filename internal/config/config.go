// Package config resolves the bot configuration from flags, environment
// variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aretw0/blueflow/pkg/states"
)

// EnvPrefix prefixes every environment variable, e.g. BLUEFLOW_TOKEN.
const EnvPrefix = "BLUEFLOW"

// Update delivery modes.
const (
	ModePoll    = "poll"
	ModeWebhook = "webhook"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Token         string
	Flow          string
	Behaviors     []string
	DB            string
	Storage       string
	Context       bool
	Mode          string
	Listen        string
	WebhookSecret string
	Concurrency   int
	Workers       int
	RedisAddr     string
	Blocklist     string
	MetricsAddr   string
	LogLevel      string
	LogFormat     string
}

// RegisterFlags declares every configuration flag on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Optional config file (yaml, json or toml)")
	fs.String("token", "", "Bot API token")
	fs.String("flow", "flow.json", "Flow definition file (.json or .yaml)")
	fs.StringSlice("behaviors", []string{states.SetBuiltin}, "Behavior sets to register")
	fs.String("db", "sqlite://blueflow.db", "Persistence DSN (sqlite://, postgres:// or memory://)")
	fs.String("storage", ".blueflow/uploads", "Directory for uploaded files")
	fs.Bool("context", true, "Enable the per-chat context used in message templates")
	fs.String("mode", ModePoll, "Update delivery: poll or webhook")
	fs.String("listen", ":8080", "Webhook listen address")
	fs.String("webhook-secret", "", "Secret token expected on webhook requests")
	fs.Int("concurrency", 25, "Maximum concurrent Bot API requests")
	fs.Int("workers", 32, "Maximum chats processed in parallel per poll batch")
	fs.String("redis-addr", "", "Redis address for cross-replica chat locks")
	fs.String("blocklist", "", "Word list file used for moderation")
	fs.String("metrics-addr", "", "Address serving Prometheus /metrics")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text or json)")
}

// Load binds flags and environment variables, reads the config file if one
// was given and returns the validated result.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := Config{
		Token:         v.GetString("token"),
		Flow:          v.GetString("flow"),
		Behaviors:     v.GetStringSlice("behaviors"),
		DB:            v.GetString("db"),
		Storage:       v.GetString("storage"),
		Context:       v.GetBool("context"),
		Mode:          strings.ToLower(v.GetString("mode")),
		Listen:        v.GetString("listen"),
		WebhookSecret: v.GetString("webhook-secret"),
		Concurrency:   v.GetInt("concurrency"),
		Workers:       v.GetInt("workers"),
		RedisAddr:     v.GetString("redis-addr"),
		Blocklist:     v.GetString("blocklist"),
		MetricsAddr:   v.GetString("metrics-addr"),
		LogLevel:      v.GetString("log-level"),
		LogFormat:     v.GetString("log-format"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if c.Token == "" {
		errs = append(errs, errors.New("token is required (--token or BLUEFLOW_TOKEN)"))
	}
	if c.Flow == "" {
		errs = append(errs, errors.New("flow is required"))
	}
	switch c.Mode {
	case ModePoll:
	case ModeWebhook:
		if c.Listen == "" {
			errs = append(errs, errors.New("listen address is required in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q (want poll or webhook)", c.Mode))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	return errors.Join(errs...)
}
