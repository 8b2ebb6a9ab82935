// Package config loads runtime settings from .env, an optional YAML file and
// the environment, in that order of precedence (environment wins).
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
)

// Predictor transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config holds every runtime setting of the service.
type Config struct {
	HTTPAddr          string        `yaml:"http_addr"`
	PredictURL        string        `yaml:"predict_url"`
	PredictTransport  string        `yaml:"predict_transport"`
	PredictGRPCAddr   string        `yaml:"predict_grpc_addr"`
	PredictGRPCMethod string        `yaml:"predict_grpc_method"`
	PredictTimeout    time.Duration `yaml:"predict_timeout"`
	SessionStore      string        `yaml:"session_store"`
	RedisAddr         string        `yaml:"redis_addr"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	MaxSessions       int           `yaml:"max_sessions"`
	MaxSessionBytes   int64         `yaml:"max_session_bytes"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		HTTPAddr:          ":8080",
		PredictURL:        "http://127.0.0.1:5000/predict",
		PredictTransport:  TransportHTTP,
		PredictGRPCAddr:   "127.0.0.1:50051",
		PredictGRPCMethod: "/predict.Predictor/Predict",
		SessionStore:      StoreMemory,
		RedisAddr:         "localhost:6379",
		SessionTTL:        30 * time.Minute,
		MaxUploadBytes:    10 << 20,
		MaxSessions:       1000,
		MaxSessionBytes:   256 << 20,
		ShutdownTimeout:   15 * time.Second,
	}
}

// Load builds the configuration from .env, CONFIG_FILE and the environment.
func Load() (*Config, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
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

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.PredictURL = getEnv("PREDICT_URL", c.PredictURL)
	c.PredictTransport = strings.ToLower(getEnv("PREDICT_TRANSPORT", c.PredictTransport))
	c.PredictGRPCAddr = getEnv("PREDICT_GRPC_ADDR", c.PredictGRPCAddr)
	c.PredictGRPCMethod = getEnv("PREDICT_GRPC_METHOD", c.PredictGRPCMethod)
	c.SessionStore = strings.ToLower(getEnv("SESSION_STORE", c.SessionStore))
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)

	var err error
	if c.PredictTimeout, err = getDuration("PREDICT_TIMEOUT", c.PredictTimeout); err != nil {
		return err
	}
	if c.SessionTTL, err = getDuration("SESSION_TTL", c.SessionTTL); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}
	if c.MaxUploadBytes, err = getInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes); err != nil {
		return err
	}
	if c.MaxSessionBytes, err = getInt64("MAX_SESSION_BYTES", c.MaxSessionBytes); err != nil {
		return err
	}
	maxSessions, err := getInt64("MAX_SESSIONS", int64(c.MaxSessions))
	if err != nil {
		return err
	}
	c.MaxSessions = int(maxSessions)
	return nil
}

// Validate reports settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.PredictTransport {
	case TransportHTTP:
		if c.PredictURL == "" {
			errs = append(errs, errors.New("predict_url is required for the http transport"))
		}
	case TransportGRPC:
		if c.PredictGRPCAddr == "" {
			errs = append(errs, errors.New("predict_grpc_addr is required for the grpc transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown predict_transport %q", c.PredictTransport))
	}
	switch c.SessionStore {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis_addr is required for the redis session store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session_store %q", c.SessionStore))
	}
	if c.PredictTimeout < 0 {
		errs = append(errs, errors.New("predict_timeout must not be negative"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session_ttl must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, errors.New("max_sessions must be positive"))
	}
	if c.MaxSessionBytes < c.MaxUploadBytes {
		errs = append(errs, errors.New("max_session_bytes must hold at least one upload"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt64(key string, fallback int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	if value == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
