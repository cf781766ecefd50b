package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables holding secrets. They are never read from YAML.
const (
	EnvSessionToken = "WARDEN_SESSION_TOKEN"
	EnvCodeKey      = "WARDEN_CODE_KEY"
	EnvJWTSecret    = "WARDEN_JWT_SECRET"
	EnvDevCode      = "WARDEN_DEV_2FA_CODE"
)

type Config struct {
	API        APIConfig        `yaml:"api"`
	Collection CollectionConfig `yaml:"collection"`
	Mining     MiningConfig     `yaml:"mining"`
	Server     ServerConfig     `yaml:"server"`
}

type APIConfig struct {
	BaseURL      string        `yaml:"base_url" validate:"required,url"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	UserAgent    string        `yaml:"user_agent" validate:"required"`
	SessionToken string        `yaml:"-"`
	CodeKey      string        `yaml:"-"`
}

type CollectionConfig struct {
	SecureDigest   bool          `yaml:"secure_digest"`
	DefaultBudget  time.Duration `yaml:"default_budget" validate:"gt=0"`
	AudioBudget    time.Duration `yaml:"audio_budget" validate:"gt=0"`
	NetworkBudget  time.Duration `yaml:"network_budget" validate:"gt=0"`
	STUNServers    []string      `yaml:"stun_servers" validate:"dive,required"`
	FontDirs       []string      `yaml:"font_dirs"`
	TrustedDigest  string        `yaml:"trusted_digest"`
	DisableNetwork bool          `yaml:"disable_network"`
}

type MiningConfig struct {
	HighRiskThreshold float64       `yaml:"high_risk_threshold" validate:"gte=0,lte=100"`
	Ticks             int           `yaml:"ticks" validate:"gt=0"`
	TickInterval      time.Duration `yaml:"tick_interval" validate:"gt=0"`
	SuccessDwell      time.Duration `yaml:"success_dwell" validate:"gte=0"`
	CooldownRefresh   time.Duration `yaml:"cooldown_refresh" validate:"gt=0"`
	TokenTTL          time.Duration `yaml:"token_ttl" validate:"gt=0,lte=5m"`
}

// ServerConfig drives the contract simulator.
type ServerConfig struct {
	Addr               string         `yaml:"addr" validate:"required"`
	RedisAddr          string         `yaml:"redis_addr"`
	GeoIPDatabase      string         `yaml:"geoip_database"`
	JWTSecret          string         `yaml:"-"`
	CodeKey            string         `yaml:"-"`
	TwoFactorCode      string         `yaml:"-"`
	SessionTTL         time.Duration  `yaml:"session_ttl" validate:"gt=0"`
	SessionHours       float64        `yaml:"session_hours" validate:"gt=0"`
	DailyMiningRate    float64        `yaml:"daily_mining_rate" validate:"gte=0"`
	MaxDevices         int            `yaml:"max_devices" validate:"gt=0"`
	MaxCodeAttempts    int            `yaml:"max_code_attempts" validate:"gt=0"`
	CodeLockout        time.Duration  `yaml:"code_lockout" validate:"gt=0"`
	RateLimitRPS       int            `yaml:"rate_limit_rps" validate:"gt=0"`
	RateLimitBurst     int            `yaml:"rate_limit_burst" validate:"gt=0"`
	BlacklistedIPs     []string       `yaml:"blacklisted_ips"`
	BannedGeoLocations []string       `yaml:"banned_geo_locations"`
	ProxyIPs           []string       `yaml:"proxy_ips"`
	WarnThreshold      float64        `yaml:"warn_threshold"`
	BlockThreshold     float64        `yaml:"block_threshold"`
	SuspicionWeights   map[string]int `yaml:"suspicion_weights"`
}

func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:   "http://localhost:8080",
			Timeout:   15 * time.Second,
			UserAgent: "warden-agent/1.0",
		},
		Collection: CollectionConfig{
			SecureDigest:  true,
			DefaultBudget: 3 * time.Second,
			AudioBudget:   time.Second,
			NetworkBudget: time.Second,
			STUNServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
		},
		Mining: MiningConfig{
			HighRiskThreshold: 80,
			Ticks:             10,
			TickInterval:      time.Second,
			SuccessDwell:      3 * time.Second,
			CooldownRefresh:   5 * time.Second,
			TokenTTL:          5 * time.Minute,
		},
		Server: ServerConfig{
			Addr:               ":8080",
			SessionTTL:         time.Hour,
			SessionHours:       24,
			DailyMiningRate:    1.5,
			MaxDevices:         3,
			MaxCodeAttempts:    5,
			CodeLockout:        2 * time.Minute,
			RateLimitRPS:       10,
			RateLimitBurst:     20,
			BlacklistedIPs:     []string{},
			BannedGeoLocations: []string{},
			WarnThreshold:      40,
			BlockThreshold:     70,
			SuspicionWeights: map[string]int{
				"blacklisted_ip":    100,
				"banned_geo":        85,
				"proxy_ip":          45,
				"tamper_detected":   50,
				"missing_signal":    10,
				"device_limit":      90,
				"shared_device":     75,
				"no_candidate_addr": 5,
			},
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, applies secrets
// from the environment and validates the result. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			logrus.WithField("path", path).Warn("LoadConfig: config file not found, using defaults")
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return cfg, fmt.Errorf("unmarshal config %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvSessionToken); v != "" {
		c.API.SessionToken = v
	}
	if v := os.Getenv(EnvCodeKey); v != "" {
		c.API.CodeKey = v
		c.Server.CodeKey = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Server.JWTSecret = v
	}
	if v := os.Getenv(EnvDevCode); v != "" {
		c.Server.TwoFactorCode = v
	}
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
