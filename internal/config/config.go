// Package config loads the storefront configuration: defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hashstyles/hashstyles/internal/identity"
)

type Config struct {
	HTTPPort           string        `yaml:"http_port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBodySize int64         `yaml:"max_request_body_size"`
	LogLevel           string        `yaml:"log_level"`

	Store     StoreConfig     `yaml:"store"`
	Sequencer SequencerConfig `yaml:"sequencer"`
	Redis     RedisConfig     `yaml:"redis"`
	Slot      SlotConfig      `yaml:"slot"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Blob      BlobConfig      `yaml:"blob"`
	Events    EventsConfig    `yaml:"events"`
	Auth      AuthConfig      `yaml:"auth"`
}

type StoreConfig struct {
	// Backend is memory or mongo.
	Backend      string `yaml:"backend"`
	MongoURI     string `yaml:"mongo_uri"`
	MongoDB      string `yaml:"mongo_db"`
	MaxTxRetries uint   `yaml:"max_tx_retries"`
}

type SequencerConfig struct {
	// Backend is store, redis or postgres.
	Backend  string         `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SlotConfig struct {
	// Backend is memory or redis.
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

type CatalogConfig struct {
	DBPath string `yaml:"db_path"`
}

type BlobConfig struct {
	// Backend is memory or gcs.
	Backend         string `yaml:"backend"`
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

type EventsConfig struct {
	// Brokers empty disables publishing.
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	// GroupID is the consumer group this instance reads order events with.
	// Every instance needs its own group to see every event.
	GroupID string `yaml:"group_id"`
}

type AuthConfig struct {
	// Tokens maps bearer tokens to users.
	Tokens map[string]identity.User `yaml:"tokens"`
	// Admins lists user ids allowed to create products.
	Admins []string `yaml:"admins"`
}

func Default() *Config {
	return &Config{
		HTTPPort:           "8080",
		RequestTimeout:     30 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		MaxRequestBodySize: 10 << 20,
		LogLevel:           "info",
		Store: StoreConfig{
			Backend:      "memory",
			MongoURI:     "mongodb://localhost:27017/?replicaSet=rs0",
			MongoDB:      "storefront",
			MaxTxRetries: 5,
		},
		Sequencer: SequencerConfig{
			Backend: "store",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "storefront",
				Password: "storefront",
				DBName:   "storefront",
			},
		},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Slot:    SlotConfig{Backend: "memory", TTL: 30 * time.Minute},
		Catalog: CatalogConfig{DBPath: "./storefront.db"},
		Blob:    BlobConfig{Backend: "memory", PublicBaseURL: "http://localhost:8080/blobs"},
		Events:  EventsConfig{Topic: "orders-placed"},
		Auth:    AuthConfig{Tokens: map[string]identity.User{}},
	}
}

// Load applies the YAML file at path (skipped when empty) and then the
// environment on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPPort = getEnv("HTTP_PORT", c.HTTPPort)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.MongoURI = getEnv("MONGO_URI", c.Store.MongoURI)
	c.Store.MongoDB = getEnv("MONGO_DB_NAME", c.Store.MongoDB)
	c.Sequencer.Backend = getEnv("SEQUENCER_BACKEND", c.Sequencer.Backend)
	c.Sequencer.Postgres.Host = getEnv("POSTGRES_HOST", c.Sequencer.Postgres.Host)
	c.Sequencer.Postgres.User = getEnv("POSTGRES_USER", c.Sequencer.Postgres.User)
	c.Sequencer.Postgres.Password = getEnv("POSTGRES_PASSWORD", c.Sequencer.Postgres.Password)
	c.Sequencer.Postgres.DBName = getEnv("POSTGRES_DB", c.Sequencer.Postgres.DBName)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Slot.Backend = getEnv("SLOT_BACKEND", c.Slot.Backend)
	c.Catalog.DBPath = getEnv("DB_PATH", c.Catalog.DBPath)
	c.Blob.Backend = getEnv("BLOB_BACKEND", c.Blob.Backend)
	c.Blob.Bucket = getEnv("GCS_BUCKET", c.Blob.Bucket)
	c.Blob.CredentialsFile = getEnv("GCS_CREDENTIALS_FILE", c.Blob.CredentialsFile)
	c.Blob.Endpoint = getEnv("GCS_ENDPOINT", c.Blob.Endpoint)
	c.Blob.PublicBaseURL = getEnv("BLOB_PUBLIC_BASE_URL", c.Blob.PublicBaseURL)
	c.Events.Topic = getEnv("KAFKA_TOPIC", c.Events.Topic)
	c.Events.GroupID = getEnv("KAFKA_GROUP_ID", c.Events.GroupID)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Brokers = splitList(v)
	}
	if v := os.Getenv("ADMIN_USERS"); v != "" {
		c.Auth.Admins = splitList(v)
	}
	if v := os.Getenv("AUTH_TOKENS"); v != "" {
		tokens, err := parseTokens(v)
		if err != nil {
			return err
		}
		for token, u := range tokens {
			c.Auth.Tokens[token] = u
		}
	}

	var err error
	if c.Sequencer.Postgres.Port, err = getEnvInt("POSTGRES_PORT", c.Sequencer.Postgres.Port); err != nil {
		return err
	}
	if c.Redis.DB, err = getEnvInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.Slot.TTL, err = getEnvDuration("SLOT_TTL", c.Slot.TTL); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	if err := oneOf("store.backend", c.Store.Backend, "memory", "mongo"); err != nil {
		return err
	}
	if err := oneOf("sequencer.backend", c.Sequencer.Backend, "store", "redis", "postgres"); err != nil {
		return err
	}
	if err := oneOf("slot.backend", c.Slot.Backend, "memory", "redis"); err != nil {
		return err
	}
	if err := oneOf("blob.backend", c.Blob.Backend, "memory", "gcs"); err != nil {
		return err
	}
	if c.Blob.Backend == "gcs" && c.Blob.Bucket == "" {
		return fmt.Errorf("blob.bucket is required for the gcs backend")
	}
	if c.Store.MaxTxRetries == 0 {
		return fmt.Errorf("store.max_tx_retries must be positive")
	}
	return nil
}

// IsAdmin reports whether uid may use the admin endpoints.
func (c *Config) IsAdmin(uid string) bool {
	for _, a := range c.Auth.Admins {
		if a == uid {
			return true
		}
	}
	return false
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", name, strings.Join(allowed, ", "), value)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseTokens reads "token:uid,token2:uid2".
func parseTokens(v string) (map[string]identity.User, error) {
	out := make(map[string]identity.User)
	for _, pair := range splitList(v) {
		token, uid, ok := strings.Cut(pair, ":")
		if !ok || token == "" || uid == "" {
			return nil, fmt.Errorf("AUTH_TOKENS: malformed entry %q", pair)
		}
		out[token] = identity.User{ID: uid}
	}
	return out, nil
}
