// Package config loads process configuration from defaults, an optional config file
// and the environment. Environment variables always win.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	strs "govsign/pkg/platform/strings"
)

// DevJWTSecret is the development signing secret; production refuses it.
const DevJWTSecret = "dev-super-secret"

type Config struct {
	Env         string   `mapstructure:"env"`
	LogLevel    string   `mapstructure:"log_level"`
	CORSOrigins []string `mapstructure:"cors_origins"`

	Events    EventsConfig    `mapstructure:"events"`
	Authority AuthorityConfig `mapstructure:"authority"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
}

// EventsConfig selects the event sink shared by both processes. No brokers means
// events are only logged.
type EventsConfig struct {
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	Topic        string   `mapstructure:"topic" validate:"required"`
}

// AuthorityConfig configures the identity authority. It is the only place the token
// signing secret lives.
type AuthorityConfig struct {
	Addr               string        `mapstructure:"addr" validate:"required"`
	JWTSecret          string        `mapstructure:"jwt_secret" validate:"required,min=8"`
	Issuer             string        `mapstructure:"issuer" validate:"required"`
	TokenTTL           time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	SessionTTL         time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	DevAdmin           bool          `mapstructure:"dev_admin"`
	AdminToken         string        `mapstructure:"admin_token"`
	IntrospectClients  string        `mapstructure:"introspect_clients"`
	RedisURL           string        `mapstructure:"redis_url" validate:"omitempty,url"`
	DatabaseURL        string        `mapstructure:"database_url"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" validate:"gte=0"`
}

// GatewayConfig configures the service gateway. It holds introspection client
// credentials and webhook secrets, never the token signing secret.
type GatewayConfig struct {
	Addr               string        `mapstructure:"addr" validate:"required"`
	SludiBaseURL       string        `mapstructure:"sludi_base_url" validate:"required,url"`
	IntrospectPath     string        `mapstructure:"introspect_path" validate:"required,startswith=/"`
	ClientID           string        `mapstructure:"client_id" validate:"required"`
	ClientSecret       string        `mapstructure:"client_secret" validate:"required"`
	IntrospectTimeout  time.Duration `mapstructure:"introspect_timeout" validate:"gt=0"`
	IntrospectCacheTTL time.Duration `mapstructure:"introspect_cache_ttl" validate:"gte=0"`
	NDXBaseURL         string        `mapstructure:"ndx_base_url" validate:"required,url"`
	NDXAPIKey          string        `mapstructure:"ndx_api_key"`
	PayDPIBaseURL      string        `mapstructure:"paydpi_base_url" validate:"required,url"`
	PayDPIAPIKey       string        `mapstructure:"paydpi_api_key"`
	UpstreamTimeout    time.Duration `mapstructure:"upstream_timeout" validate:"gt=0"`
	WebhookSecretNDX   string        `mapstructure:"webhook_secret_ndx"`
	WebhookSecretPay   string        `mapstructure:"webhook_secret_paydpi"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" validate:"gte=0"`
}

// envBindings maps config keys to environment variable names, most specific first.
var envBindings = map[string][]string{
	"env":          {"ENV", "NODE_ENV"},
	"log_level":    {"LOG_LEVEL"},
	"cors_origins": {"CORS_ORIGINS"},

	"events.kafka_brokers": {"KAFKA_BROKERS"},
	"events.topic":         {"KAFKA_EVENTS_TOPIC"},

	"authority.addr":                  {"SLUDI_ADDR"},
	"authority.jwt_secret":            {"SLUDI_JWT_SECRET"},
	"authority.issuer":                {"SLUDI_ISSUER"},
	"authority.token_ttl":             {"SLUDI_TOKEN_TTL"},
	"authority.session_ttl":           {"SLUDI_SESSION_TTL"},
	"authority.sweep_interval":        {"SLUDI_SWEEP_INTERVAL"},
	"authority.dev_admin":             {"SLUDI_DEV_ADMIN"},
	"authority.admin_token":           {"SLUDI_ADMIN_TOKEN"},
	"authority.introspect_clients":    {"SLUDI_INTROSPECT_CLIENTS"},
	"authority.redis_url":             {"REDIS_URL"},
	"authority.database_url":          {"DATABASE_URL"},
	"authority.rate_limit_per_minute": {"SLUDI_RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_PER_MINUTE"},

	"gateway.addr":                  {"GATEWAY_ADDR"},
	"gateway.sludi_base_url":        {"SLUDI_BASE_URL"},
	"gateway.introspect_path":       {"SLUDI_INTROSPECT_PATH"},
	"gateway.client_id":             {"SLUDI_CLIENT_ID"},
	"gateway.client_secret":         {"SLUDI_CLIENT_SECRET"},
	"gateway.introspect_timeout":    {"INTROSPECT_TIMEOUT"},
	"gateway.introspect_cache_ttl":  {"INTROSPECT_CACHE_TTL"},
	"gateway.ndx_base_url":          {"NDX_BASE_URL"},
	"gateway.ndx_api_key":           {"NDX_API_KEY"},
	"gateway.paydpi_base_url":       {"PAYDPI_BASE_URL"},
	"gateway.paydpi_api_key":        {"PAYDPI_API_KEY"},
	"gateway.upstream_timeout":      {"UPSTREAM_TIMEOUT"},
	"gateway.webhook_secret_ndx":    {"WEBHOOK_SECRET_NDX"},
	"gateway.webhook_secret_paydpi": {"WEBHOOK_SECRET_PAYDPI"},
	"gateway.rate_limit_per_minute": {"GATEWAY_RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_PER_MINUTE"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("events.kafka_brokers", []string{})
	v.SetDefault("events.topic", "govsign.events")

	v.SetDefault("authority.addr", ":4001")
	v.SetDefault("authority.jwt_secret", DevJWTSecret)
	v.SetDefault("authority.issuer", "sludi")
	v.SetDefault("authority.token_ttl", 9000*time.Second)
	v.SetDefault("authority.session_ttl", 10*time.Minute)
	v.SetDefault("authority.sweep_interval", time.Minute)
	v.SetDefault("authority.dev_admin", false)
	v.SetDefault("authority.admin_token", "")
	v.SetDefault("authority.introspect_clients", "govsign-gateway:dev-gateway-secret")
	v.SetDefault("authority.redis_url", "")
	v.SetDefault("authority.database_url", "")
	v.SetDefault("authority.rate_limit_per_minute", 100)

	v.SetDefault("gateway.addr", ":5000")
	v.SetDefault("gateway.sludi_base_url", "http://localhost:4001")
	v.SetDefault("gateway.introspect_path", "/oauth2/introspect")
	v.SetDefault("gateway.client_id", "govsign-gateway")
	v.SetDefault("gateway.client_secret", "dev-gateway-secret")
	v.SetDefault("gateway.introspect_timeout", 10*time.Second)
	v.SetDefault("gateway.introspect_cache_ttl", 30*time.Second)
	v.SetDefault("gateway.ndx_base_url", "http://localhost:4002")
	v.SetDefault("gateway.ndx_api_key", "")
	v.SetDefault("gateway.paydpi_base_url", "http://localhost:4003")
	v.SetDefault("gateway.paydpi_api_key", "")
	v.SetDefault("gateway.upstream_timeout", 15*time.Second)
	v.SetDefault("gateway.webhook_secret_ndx", "")
	v.SetDefault("gateway.webhook_secret_paydpi", "")
	v.SetDefault("gateway.rate_limit_per_minute", 120)
}

// NewViper builds a viper instance with defaults and environment bindings. When
// configFile is set it is read as well.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

// Load decodes and validates configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORSOrigins = strs.DedupeAndTrim(cfg.CORSOrigins)
	cfg.Events.KafkaBrokers = strs.DedupeAndTrim(cfg.Events.KafkaBrokers)

	validate := validator.New()
	if err := validate.Struct(cfg.Events); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validate.Var(cfg.Env, "oneof=development test production"); err != nil {
		return nil, fmt.Errorf("invalid config: ENV %q: %w", cfg.Env, err)
	}
	if err := validate.Var(cfg.LogLevel, "oneof=debug info warn error"); err != nil {
		return nil, fmt.Errorf("invalid config: LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	return &cfg, nil
}

// ValidateAuthority checks the settings the authority process needs.
func (c *Config) ValidateAuthority() error {
	if err := validator.New().Struct(c.Authority); err != nil {
		return fmt.Errorf("invalid authority config: %w", err)
	}
	if c.IsProduction() && c.Authority.JWTSecret == DevJWTSecret {
		return fmt.Errorf("invalid authority config: SLUDI_JWT_SECRET must be set in production")
	}
	if c.IsProduction() && c.Authority.DevAdmin {
		return fmt.Errorf("invalid authority config: SLUDI_DEV_ADMIN cannot be enabled in production")
	}
	if _, err := ParseClientCredentials(c.Authority.IntrospectClients); err != nil {
		return fmt.Errorf("invalid authority config: %w", err)
	}
	return nil
}

// ValidateGateway checks the settings the gateway process needs.
func (c *Config) ValidateGateway() error {
	if err := validator.New().Struct(c.Gateway); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}
	if c.IsProduction() && (c.Gateway.WebhookSecretNDX == "" || c.Gateway.WebhookSecretPay == "") {
		return fmt.Errorf("invalid gateway config: webhook secrets must be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ParseClientCredentials parses "id:secret,id2:secret2" into a map.
func ParseClientCredentials(raw string) (map[string]string, error) {
	clients := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, secret, ok := strings.Cut(pair, ":")
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("introspection client %q must be id:secret", pair)
		}
		clients[id] = secret
	}
	return clients, nil
}
