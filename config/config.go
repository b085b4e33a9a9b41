package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type OCPPConfig struct {
	// DisableChargerAuth lets every charger in as authenticated
	DisableChargerAuth bool `toml:"disable_charger_auth"`
	// MessageTimeoutSecs bounds inbound handlers and outbound calls
	MessageTimeoutSecs    int      `toml:"message_timeout_secs"`
	MasterPassword        string   `toml:"master_password"`
	MasterPasswordVendors []string `toml:"master_password_vendors"`
	BcryptCost            int      `toml:"bcrypt_cost"`
	MaxMessageSize        int64    `toml:"max_message_size"`
}

type TLSConfig struct {
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

type DatabaseConfig struct {
	// URL of the PostgreSQL database, the in-memory store is used when empty
	URL string `toml:"url"`
}

type AMQPConfig struct {
	Enabled  bool   `toml:"enabled"`
	URL      string `toml:"url"`
	Exchange string `toml:"exchange"`
}

type NATSConfig struct {
	Enabled            bool   `toml:"enabled"`
	URL                string `toml:"url"`
	CommandSubject     string `toml:"command_subject"`
	EventSubjectPrefix string `toml:"event_subject_prefix"`
}

type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

type AuthorizationConfig struct {
	URL         string `toml:"url"`
	APIKey      string `toml:"api_key"`
	TimeoutSecs int    `toml:"timeout_secs"`
}

// Config contains the whole server configuration
type Config struct {
	Host          string              `toml:"host"`
	Port          int                 `toml:"port"`
	LogLevel      string              `toml:"log_level"`
	OCPP          OCPPConfig          `toml:"ocpp"`
	TLS           TLSConfig           `toml:"tls"`
	Database      DatabaseConfig      `toml:"database"`
	AMQP          AMQPConfig          `toml:"amqp"`
	NATS          NATSConfig          `toml:"nats"`
	API           APIConfig           `toml:"api"`
	Authorization AuthorizationConfig `toml:"authorization"`
}

// NewConfig returns the defaults
func NewConfig() Config {
	return Config{
		Host:     "0.0.0.0",
		Port:     8887,
		LogLevel: "info",
		OCPP: OCPPConfig{
			MessageTimeoutSecs:    30,
			MasterPasswordVendors: []string{"Easee"},
			BcryptCost:            10,
			MaxMessageSize:        64 * 1024,
		},
		AMQP: AMQPConfig{
			Exchange: "csms.events",
		},
		NATS: NATSConfig{
			CommandSubject:     "request",
			EventSubjectPrefix: "csms",
		},
		API: APIConfig{
			Enabled: true,
			Port:    8081,
		},
		Authorization: AuthorizationConfig{
			TimeoutSecs: 10,
		},
	}
}

// Load reads the defaults, then the TOML file at path (if any), then the environment
func Load(path string) (Config, error) {
	cfg := NewConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Host = getEnv("HOST", c.Host)
	c.Port = getEnvAsInt("PORT", c.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.OCPP.MasterPassword = getEnv("EASEE_MASTER_PASSWORD", c.OCPP.MasterPassword)
	c.OCPP.DisableChargerAuth = getEnvAsBool("DISABLE_CHARGER_AUTH", c.OCPP.DisableChargerAuth)
	c.OCPP.MessageTimeoutSecs = getEnvAsInt("MESSAGE_TIMEOUT_SECS", c.OCPP.MessageTimeoutSecs)

	c.TLS.CertFile = getEnv("SERVER_CERTIFICATE_PATH", c.TLS.CertFile)
	c.TLS.KeyFile = getEnv("SERVER_CERTIFICATE_KEY_PATH", c.TLS.KeyFile)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)

	if url := os.Getenv("AMQP_URL"); url != "" {
		c.AMQP.URL = url
		c.AMQP.Enabled = true
	}
	c.AMQP.Exchange = getEnv("AMQP_EXCHANGE", c.AMQP.Exchange)

	if url := os.Getenv("NATS_URL"); url != "" {
		c.NATS.URL = url
		c.NATS.Enabled = true
	}

	c.API.Port = getEnvAsInt("API_PORT", c.API.Port)
	c.API.APIKey = getEnv("API_KEY", c.API.APIKey)

	c.Authorization.URL = getEnv("AUTHORIZATION_URL", c.Authorization.URL)
	c.Authorization.APIKey = getEnv("AUTHORIZATION_API_KEY", c.Authorization.APIKey)
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("invalid api port %d", c.API.Port)
	}
	if c.API.Enabled && c.API.Port == c.Port {
		return fmt.Errorf("api port %d collides with the charger port", c.API.Port)
	}
	if c.OCPP.MessageTimeoutSecs <= 0 {
		return fmt.Errorf("message timeout must be positive")
	}
	if c.AMQP.Enabled && c.AMQP.URL == "" {
		return fmt.Errorf("amqp is enabled without url")
	}
	return nil
}

// Addr is the listen address of the charger endpoint
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) APIAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.API.Port))
}

func (c *Config) MessageTimeout() time.Duration {
	return time.Duration(c.OCPP.MessageTimeoutSecs) * time.Second
}

func (c *Config) AuthorizationTimeout() time.Duration {
	return time.Duration(c.Authorization.TimeoutSecs) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return defaultValue
	}
}
