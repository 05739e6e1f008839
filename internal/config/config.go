// Package config loads the process-wide configuration once at startup:
// defaults, then an optional YAML file, then a .env file, then the process
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shineum/form-relay/internal/smtp"
	relaytls "github.com/shineum/form-relay/internal/tls"
)

// DotEnvFile is read from the working directory when present.
const DotEnvFile = ".env"

// Fallback provider names.
const (
	ProviderSendmail = "sendmail"
	ProviderSES      = "ses"
	ProviderGraph    = "graph"
	ProviderStdout   = "stdout"
	ProviderNone     = "none"
)

// Config holds the complete application configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Mail     MailConfig     `yaml:"mail"`
	Relay    RelayConfig    `yaml:"relay"`
	Fallback FallbackConfig `yaml:"fallback"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig holds the form endpoint settings.
type HTTPConfig struct {
	Listen         string `yaml:"listen"`
	SuccessURL     string `yaml:"success_url"`
	AllowedOrigins string `yaml:"allowed_origins"`
}

// MailConfig holds the addressing of every notification.
type MailConfig struct {
	To       string `yaml:"to"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`

	// Domain is announced in EHLO and names the site in booking mails.
	Domain string `yaml:"domain"`
}

// RelayConfig holds the authenticated SMTP relay settings.
type RelayConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	ImplicitTLS        bool          `yaml:"implicit_tls"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	IOTimeout          time.Duration `yaml:"io_timeout"`
	CAFile             string        `yaml:"ca_file"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// FallbackConfig selects the transport used when the relay is skipped or fails.
type FallbackConfig struct {
	Provider     string      `yaml:"provider"`
	SendmailPath string      `yaml:"sendmail_path"`
	SES          SESConfig   `yaml:"ses"`
	Graph        GraphConfig `yaml:"graph"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load builds the configuration from defaults, .env and the environment.
func Load() (*Config, error) {
	return load("", DotEnvFile)
}

// LoadFromFile uses a YAML file as the base layer, then .env and the
// environment. Returns an error if the file does not exist.
func LoadFromFile(path string) (*Config, error) {
	return load(path, DotEnvFile)
}

func load(yamlPath, dotenvPath string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	dotenv, err := readDotEnv(dotenvPath)
	if err != nil {
		return nil, err
	}

	// Real environment variables win over .env entries.
	lookup := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	cfg.deriveAddresses()
	return cfg, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	m, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return m, nil
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Mail.To == "" {
		errs = append(errs, errors.New("mail.to (MAIL_TO) is required"))
	}
	if c.Mail.From == "" {
		errs = append(errs, errors.New("mail.from (MAIL_FROM) is required"))
	}
	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		errs = append(errs, fmt.Errorf("relay.port %d is out of range", c.Relay.Port))
	}
	switch c.Fallback.Provider {
	case ProviderSendmail, ProviderSES, ProviderGraph, ProviderStdout, ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("unknown fallback provider %q", c.Fallback.Provider))
	}
	return errors.Join(errs...)
}

// RelayConfigured returns true if the relay is enabled and has credentials.
func (c *Config) RelayConfigured() bool {
	return c.Relay.Enabled && c.Relay.Username != "" && c.Relay.Password != ""
}

// SESConfigured returns true if a region is set. Credentials may come from
// the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.Fallback.SES.Region != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	g := c.Fallback.Graph
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != "" && g.Sender != ""
}

// ConnectionConfig converts the relay section into the client's
// configuration value.
func (c *Config) ConnectionConfig() (smtp.ConnectionConfig, error) {
	tlsCfg, err := relaytls.ClientConfig(relaytls.ClientOptions{
		ServerName:         c.Relay.Host,
		CAFile:             c.Relay.CAFile,
		InsecureSkipVerify: c.Relay.InsecureSkipVerify,
	})
	if err != nil {
		return smtp.ConnectionConfig{}, err
	}

	return smtp.ConnectionConfig{
		Host:           c.Relay.Host,
		Port:           c.Relay.Port,
		Username:       c.Relay.Username,
		Password:       c.Relay.Password,
		ImplicitTLS:    c.Relay.ImplicitTLS,
		Enabled:        c.Relay.Enabled,
		LocalName:      c.Mail.Domain,
		ConnectTimeout: c.Relay.ConnectTimeout,
		IOTimeout:      c.Relay.IOTimeout,
		TLSConfig:      tlsCfg,
	}, nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":8080"
	c.HTTP.SuccessURL = "/success.html"
	c.HTTP.AllowedOrigins = "*"
	c.Mail.FromName = "Website"
	c.Relay.Host = "smtp.hostinger.com"
	c.Relay.Port = 465
	c.Relay.ImplicitTLS = true
	c.Relay.ConnectTimeout = 15 * time.Second
	c.Relay.IOTimeout = 60 * time.Second
	c.Fallback.Provider = ProviderSendmail
	c.Logging.Level = "info"
}

// deriveAddresses fills To from the relay account and From from the domain
// when they are not set explicitly.
func (c *Config) deriveAddresses() {
	if c.Mail.To == "" {
		c.Mail.To = c.Relay.Username
	}
	if c.Mail.From == "" && c.Mail.Domain != "" {
		c.Mail.From = "no-reply@" + c.Mail.Domain
	}
}

// applyEnv overrides configuration with environment values. Only non-empty
// values override existing ones.
func (c *Config) applyEnv(getenv func(string) string) error {
	p := envParser{getenv: getenv}

	p.str("HTTP_LISTEN", &c.HTTP.Listen)
	p.str("SUCCESS_URL", &c.HTTP.SuccessURL)
	p.str("CORS_ORIGINS", &c.HTTP.AllowedOrigins)

	p.str("MAIL_TO", &c.Mail.To)
	p.str("MAIL_FROM", &c.Mail.From)
	p.str("MAIL_FROM_NAME", &c.Mail.FromName)
	p.str("DOMAIN", &c.Mail.Domain)

	p.boolean("SMTP_ENABLE", &c.Relay.Enabled)
	p.str("SMTP_HOST", &c.Relay.Host)
	p.integer("SMTP_PORT", &c.Relay.Port)
	p.str("SMTP_USER", &c.Relay.Username)
	p.str("SMTP_PASS", &c.Relay.Password)
	p.boolean("SMTP_SECURE", &c.Relay.ImplicitTLS)
	p.duration("SMTP_CONNECT_TIMEOUT", &c.Relay.ConnectTimeout)
	p.duration("SMTP_IO_TIMEOUT", &c.Relay.IOTimeout)
	p.str("SMTP_CA_FILE", &c.Relay.CAFile)
	p.boolean("SMTP_INSECURE", &c.Relay.InsecureSkipVerify)

	if v := getenv("FALLBACK_PROVIDER"); v != "" {
		c.Fallback.Provider = strings.ToLower(v)
	}
	p.str("SENDMAIL_PATH", &c.Fallback.SendmailPath)

	p.str("SES_REGION", &c.Fallback.SES.Region)
	p.str("SES_ACCESS_KEY_ID", &c.Fallback.SES.AccessKeyID)
	p.str("SES_SECRET_ACCESS_KEY", &c.Fallback.SES.SecretAccessKey)
	p.str("SES_SENDER", &c.Fallback.SES.Sender)

	p.str("GRAPH_TENANT_ID", &c.Fallback.Graph.TenantID)
	p.str("GRAPH_CLIENT_ID", &c.Fallback.Graph.ClientID)
	p.str("GRAPH_CLIENT_SECRET", &c.Fallback.Graph.ClientSecret)
	p.str("GRAPH_SENDER", &c.Fallback.Graph.Sender)

	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return errors.Join(p.errs...)
}

// envParser applies typed environment values and collects parse errors.
type envParser struct {
	getenv func(string) string
	errs   []error
}

func (p *envParser) str(key string, dst *string) {
	if v := p.getenv(key); v != "" {
		*dst = v
	}
}

func (p *envParser) integer(key string, dst *int) {
	v := p.getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (p *envParser) boolean(key string, dst *bool) {
	v := p.getenv(key)
	if v == "" {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		p.errs = append(p.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
	}
}

// duration accepts Go duration syntax or a bare number of seconds.
func (p *envParser) duration(key string, dst *time.Duration) {
	v := p.getenv(key)
	if v == "" {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return
	}
	*dst = d
}
