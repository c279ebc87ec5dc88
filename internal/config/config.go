// Package config loads service settings from an optional YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ortelius/community-site/database"
	"github.com/ortelius/community-site/restapi/modules/auth"
	"gopkg.in/yaml.v2"
)

// Mail transports
const (
	MailTransportSMTP  = "smtp"
	MailTransportKafka = "kafka"
	MailTransportLog   = "log"
)

// MinSecretLength is the shortest accepted JWT signing secret
const MinSecretLength = 32

// ArangoConfig locates the credential database
type ArangoConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Protocol string `yaml:"protocol"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// URL overrides Protocol, Host and Port when set
	URL string `yaml:"url"`
}

// Endpoint returns the ArangoDB endpoint URL
func (a ArangoConfig) Endpoint() string {
	if a.URL != "" {
		return a.URL
	}
	return fmt.Sprintf("%s://%s:%s", a.Protocol, a.Host, a.Port)
}

// KafkaConfig configures the mail outbox
type KafkaConfig struct {
	Brokers   []string `yaml:"brokers"`
	MailTopic string   `yaml:"mail_topic"`
	GroupID   string   `yaml:"group_id"`
	// APIKey and APISecret enable SASL/PLAIN over TLS
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	// RunRelay starts the SMTP relay consumer in this process
	RunRelay bool `yaml:"run_relay"`
}

// RateLimitConfig bounds login and forgot-password attempts per client IP
type RateLimitConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	Limit         int           `yaml:"limit"`
	Window        time.Duration `yaml:"window"`
}

// Enabled reports whether a Redis server is configured
func (r RateLimitConfig) Enabled() bool {
	return r.RedisAddr != "" && r.Limit > 0
}

// AdminConfig seeds the first admin account
type AdminConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// Config is the full service configuration
type Config struct {
	Port         string        `yaml:"port"`
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenIssuer  string        `yaml:"token_issuer"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	ResetTTL     time.Duration `yaml:"reset_ttl"`
	PasswordCost int           `yaml:"password_cost"`
	BaseURL      string        `yaml:"base_url"`
	SiteName     string        `yaml:"site_name"`
	AllowOrigins string        `yaml:"allow_origins"`
	// MemoryStore keeps users in process instead of ArangoDB
	MemoryStore bool `yaml:"memory_store"`

	MailTransport string           `yaml:"mail_transport"`
	Arango        ArangoConfig     `yaml:"arango"`
	Email         auth.EmailConfig `yaml:"email"`
	Kafka         KafkaConfig      `yaml:"kafka"`
	RateLimit     RateLimitConfig  `yaml:"rate_limit"`
	OAuth         auth.OAuthConfig `yaml:"oauth"`
	Admin         AdminConfig      `yaml:"admin"`
}

// Default returns the settings used when neither file nor environment sets a value
func Default() Config {
	return Config{
		Port:          "3000",
		TokenIssuer:   "community-site",
		TokenTTL:      auth.DefaultTokenValidity,
		ResetTTL:      auth.DefaultResetTTL,
		BaseURL:       "http://localhost:5173",
		SiteName:      "Community",
		AllowOrigins:  "*",
		MailTransport: MailTransportLog,
		Arango: ArangoConfig{
			Host:     "localhost",
			Port:     "8529",
			Protocol: "http",
			User:     "root",
			Database: "community",
		},
		Email: auth.EmailConfig{
			SMTPPort: "587",
			FromName: "Community",
		},
		Kafka: KafkaConfig{
			MailTopic: "community.mail",
			GroupID:   "community-mail-relay",
		},
		RateLimit: RateLimitConfig{
			Limit:  10,
			Window: time.Minute,
		},
	}
}

// Load reads the YAML file named by CONFIG_FILE, if any, and then applies
// environment overrides
func Load() (Config, error) {
	cfg := Default()

	if path := database.GetEnvDefault("CONFIG_FILE", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = database.GetEnvDefault("MS_PORT", c.Port)
	c.JWTSecret = database.GetEnvDefault("JWT_SECRET", c.JWTSecret)
	c.TokenIssuer = database.GetEnvDefault("JWT_ISSUER", c.TokenIssuer)
	c.BaseURL = database.GetEnvDefault("BASE_URL", c.BaseURL)
	c.SiteName = database.GetEnvDefault("SITE_NAME", c.SiteName)
	c.AllowOrigins = database.GetEnvDefault("ALLOW_ORIGINS", c.AllowOrigins)
	c.MailTransport = strings.ToLower(database.GetEnvDefault("MAIL_TRANSPORT", c.MailTransport))

	c.Arango.URL = database.GetEnvDefault("ARANGO_URL", c.Arango.URL)
	c.Arango.Host = database.GetEnvDefault("ARANGO_HOST", c.Arango.Host)
	c.Arango.Port = database.GetEnvDefault("ARANGO_PORT", c.Arango.Port)
	c.Arango.Protocol = database.GetEnvDefault("ARANGO_PROTOCOL", c.Arango.Protocol)
	c.Arango.User = database.GetEnvDefault("ARANGO_USER", c.Arango.User)
	c.Arango.Password = database.GetEnvDefault("ARANGO_PASS", c.Arango.Password)
	c.Arango.Database = database.GetEnvDefault("ARANGO_DATABASE", c.Arango.Database)

	c.Email.SMTPHost = database.GetEnvDefault("SMTP_HOST", c.Email.SMTPHost)
	c.Email.SMTPPort = database.GetEnvDefault("SMTP_PORT", c.Email.SMTPPort)
	c.Email.SMTPUsername = database.GetEnvDefault("SMTP_USERNAME", c.Email.SMTPUsername)
	c.Email.SMTPPassword = database.GetEnvDefault("SMTP_PASSWORD", c.Email.SMTPPassword)
	c.Email.FromEmail = database.GetEnvDefault("SMTP_FROM_EMAIL", c.Email.FromEmail)
	c.Email.FromName = database.GetEnvDefault("SMTP_FROM_NAME", c.Email.FromName)

	if brokers := database.GetEnvDefault("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	c.Kafka.MailTopic = database.GetEnvDefault("KAFKA_MAIL_TOPIC", c.Kafka.MailTopic)
	c.Kafka.GroupID = database.GetEnvDefault("KAFKA_GROUP_ID", c.Kafka.GroupID)
	c.Kafka.APIKey = database.GetEnvDefault("KAFKA_API_KEY", c.Kafka.APIKey)
	c.Kafka.APISecret = database.GetEnvDefault("KAFKA_API_SECRET", c.Kafka.APISecret)

	c.RateLimit.RedisAddr = database.GetEnvDefault("REDIS_ADDR", c.RateLimit.RedisAddr)
	c.RateLimit.RedisPassword = database.GetEnvDefault("REDIS_PASSWORD", c.RateLimit.RedisPassword)

	c.OAuth.Google.ClientID = database.GetEnvDefault("GOOGLE_CLIENT_ID", c.OAuth.Google.ClientID)
	c.OAuth.Google.ClientSecret = database.GetEnvDefault("GOOGLE_CLIENT_SECRET", c.OAuth.Google.ClientSecret)
	c.OAuth.GitHub.ClientID = database.GetEnvDefault("GITHUB_CLIENT_ID", c.OAuth.GitHub.ClientID)
	c.OAuth.GitHub.ClientSecret = database.GetEnvDefault("GITHUB_CLIENT_SECRET", c.OAuth.GitHub.ClientSecret)
	c.OAuth.CallbackBase = database.GetEnvDefault("OAUTH_CALLBACK_BASE", c.OAuth.CallbackBase)
	c.OAuth.FrontendURL = database.GetEnvDefault("FRONTEND_URL", c.OAuth.FrontendURL)

	c.Admin.Email = database.GetEnvDefault("ADMIN_EMAIL", c.Admin.Email)
	c.Admin.Password = database.GetEnvDefault("ADMIN_PASSWORD", c.Admin.Password)

	var err error
	if c.TokenTTL, err = envDuration("TOKEN_TTL", c.TokenTTL); err != nil {
		return err
	}
	if c.ResetTTL, err = envDuration("RESET_TTL", c.ResetTTL); err != nil {
		return err
	}
	if c.RateLimit.Window, err = envDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window); err != nil {
		return err
	}
	if c.RateLimit.Limit, err = envInt("RATE_LIMIT_MAX", c.RateLimit.Limit); err != nil {
		return err
	}
	if c.PasswordCost, err = envInt("PASSWORD_COST", c.PasswordCost); err != nil {
		return err
	}
	if c.MemoryStore, err = envBool("MEMORY_STORE", c.MemoryStore); err != nil {
		return err
	}
	if c.Kafka.RunRelay, err = envBool("KAFKA_RUN_RELAY", c.Kafka.RunRelay); err != nil {
		return err
	}
	return nil
}

// Validate checks the settings the service cannot start without
func (c Config) Validate() error {
	if len(c.JWTSecret) < MinSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", MinSecretLength)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", c.TokenTTL)
	}
	if c.ResetTTL <= 0 {
		return fmt.Errorf("reset ttl must be positive, got %s", c.ResetTTL)
	}

	switch c.MailTransport {
	case MailTransportLog:
	case MailTransportSMTP:
		if !c.Email.Configured() {
			return fmt.Errorf("mail transport smtp requires SMTP_HOST, SMTP_USERNAME and SMTP_PASSWORD")
		}
	case MailTransportKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.MailTopic == "" {
			return fmt.Errorf("mail transport kafka requires KAFKA_BROKERS and KAFKA_MAIL_TOPIC")
		}
	default:
		return fmt.Errorf("unknown mail transport %q", c.MailTransport)
	}

	if c.Kafka.RunRelay && !c.Email.Configured() {
		return fmt.Errorf("the mail relay requires SMTP settings")
	}
	if (c.Admin.Email == "") != (c.Admin.Password == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	return nil
}

// DatabaseConfig converts the ArangoDB settings for database.InitializeDatabase
func (c Config) DatabaseConfig() database.Config {
	return database.Config{
		URL:      c.Arango.Endpoint(),
		User:     c.Arango.User,
		Password: c.Arango.Password,
		Name:     c.Arango.Database,

		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		MaxElapsed:      5 * time.Minute,
	}
}

// ServiceConfig converts the settings consumed by the auth service
func (c Config) ServiceConfig() auth.ServiceConfig {
	return auth.ServiceConfig{
		ResetTTL:     c.ResetTTL,
		PasswordCost: c.PasswordCost,
		BaseURL:      c.BaseURL,
		SiteName:     c.SiteName,
	}
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	val := database.GetEnvDefault(key, "")
	if val == "" {
		return def, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return d, nil
}

func envInt(key string, def int) (int, error) {
	val := database.GetEnvDefault(key, "")
	if val == "" {
		return def, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	val := database.GetEnvDefault(key, "")
	if val == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
