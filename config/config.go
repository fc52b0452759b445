// Package config loads and validates watcher configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Email provider names.
const (
	ProviderSMTP  = "smtp"
	ProviderGmail = "gmail"
	ProviderMock  = "mock"
)

// Config is built once at startup and passed by value to every component.
type Config struct {
	ListURL      string
	UserAgent    string
	FetchTimeout time.Duration

	StateFile   string
	StateBucket string
	StateObject string

	EmailProvider string
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPass      string
	SMTPTimeout   time.Duration
	FromName      string
	Subject       string
	Recipients    []string

	GoogleCredentialsJSON string

	TestMode bool
	Port     string
	LogLevel string
}

// envBindings maps config keys to the environment variables they are read from.
var envBindings = map[string]string{
	"list_url":                "ARXIV_LIST_URL",
	"user_agent":              "HTTP_USER_AGENT",
	"fetch_timeout":           "FETCH_TIMEOUT",
	"state_file":              "STATE_FILE",
	"state_bucket":            "STATE_BUCKET",
	"state_object":            "STATE_OBJECT",
	"email_provider":          "EMAIL_PROVIDER",
	"smtp_host":               "SMTP_HOST",
	"smtp_port":               "SMTP_PORT",
	"smtp_user":               "SMTP_USER",
	"smtp_pass":               "SMTP_PASS",
	"smtp_timeout":            "SMTP_TIMEOUT",
	"from_name":               "MAIL_FROM_NAME",
	"subject":                 "MAIL_SUBJECT",
	"mail_to":                 "MAIL_TO",
	"google_credentials_json": "GOOGLE_CREDENTIALS_JSON",
	"test_mode":               "TEST_MODE",
	"port":                    "PORT",
	"log_level":               "LOG_LEVEL",
}

// Load builds a Config from defaults, an optional config file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		ListURL:               strings.TrimSpace(v.GetString("list_url")),
		UserAgent:             v.GetString("user_agent"),
		FetchTimeout:          v.GetDuration("fetch_timeout"),
		StateFile:             v.GetString("state_file"),
		StateBucket:           v.GetString("state_bucket"),
		StateObject:           v.GetString("state_object"),
		EmailProvider:         strings.ToLower(strings.TrimSpace(v.GetString("email_provider"))),
		SMTPHost:              v.GetString("smtp_host"),
		SMTPPort:              v.GetInt("smtp_port"),
		SMTPUser:              v.GetString("smtp_user"),
		SMTPPass:              v.GetString("smtp_pass"),
		SMTPTimeout:           v.GetDuration("smtp_timeout"),
		FromName:              v.GetString("from_name"),
		Subject:               v.GetString("subject"),
		Recipients:            ParseRecipients(v.GetString("mail_to")),
		GoogleCredentialsJSON: v.GetString("google_credentials_json"),
		TestMode:              IsTruthy(v.GetString("test_mode")),
		Port:                  v.GetString("port"),
		LogLevel:              v.GetString("log_level"),
	}
	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFile()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("list_url", "https://arxiv.org/list/cond-mat/new")
	v.SetDefault("user_agent", "Mozilla/5.0 arxiv-page-update-watch")
	v.SetDefault("fetch_timeout", "25s")
	v.SetDefault("state_file", "")
	v.SetDefault("state_bucket", "")
	v.SetDefault("state_object", "state.json")
	v.SetDefault("email_provider", ProviderSMTP)
	v.SetDefault("smtp_host", "smtp.exmail.qq.com")
	v.SetDefault("smtp_port", 465)
	v.SetDefault("smtp_user", "")
	v.SetDefault("smtp_pass", "")
	v.SetDefault("smtp_timeout", "30s")
	v.SetDefault("from_name", "arXiv Watcher")
	v.SetDefault("subject", "[arXiv cond-mat/new] Page updated")
	v.SetDefault("mail_to", "")
	v.SetDefault("google_credentials_json", "")
	v.SetDefault("test_mode", "0")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	u, err := url.Parse(c.ListURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("list_url must be an absolute http(s) URL, got %q", c.ListURL)
	}
	if c.FetchTimeout <= 0 {
		return errors.New("fetch_timeout must be positive")
	}
	if c.SMTPTimeout <= 0 {
		return errors.New("smtp_timeout must be positive")
	}
	if c.SMTPPort < 1 || c.SMTPPort > 65535 {
		return fmt.Errorf("smtp_port out of range: %d", c.SMTPPort)
	}
	switch c.EmailProvider {
	case ProviderSMTP, ProviderGmail, ProviderMock:
	default:
		return fmt.Errorf("unknown email_provider %q", c.EmailProvider)
	}
	if c.StateBucket == "" && c.StateFile == "" {
		return errors.New("state_file is required when state_bucket is not set")
	}
	if c.StateBucket != "" && c.StateObject == "" {
		return errors.New("state_object is required when state_bucket is set")
	}
	return nil
}

// ParseRecipients splits a comma-separated list, trimming entries and dropping
// empty ones. Order and duplicates are preserved.
func ParseRecipients(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsTruthy reports whether a flag value enables a feature. Only "1" does.
func IsTruthy(raw string) bool {
	return strings.TrimSpace(raw) == "1"
}

// DefaultStateFile places state.json beside the running executable.
func DefaultStateFile() string {
	exe, err := os.Executable()
	if err != nil {
		return "state.json"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "state.json")
}
