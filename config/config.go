package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting for the API server. Values come from
// an optional config file with environment variables taking precedence.
type Config struct {
	DatabaseURL       string
	ListenAddr        string
	JWTSecret         string
	ClassifierBaseURL string
	ClassifierTimeout time.Duration
	FeeRateBps        int64
	PlatformAddress   string
	MaxChainDepth     int
	LogLevel          string
}

// Load reads config.yaml (if present) and the environment.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("classifier.timeout_seconds", 10)
	v.SetDefault("revenue.fee_rate_bps", 500)
	v.SetDefault("work.max_chain_depth", 50)
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.AutomaticEnv()
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("server.listen_addr", "LISTEN_ADDR")
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	v.BindEnv("classifier.base_url", "CLASSIFIER_URL")
	v.BindEnv("classifier.timeout_seconds", "CLASSIFIER_TIMEOUT_SECONDS")
	v.BindEnv("revenue.fee_rate_bps", "FEE_RATE_BPS")
	v.BindEnv("revenue.platform_address", "PLATFORM_ADDRESS")
	v.BindEnv("work.max_chain_depth", "MAX_CHAIN_DEPTH")
	v.BindEnv("log.level", "LOG_LEVEL")

	cfg := Config{
		DatabaseURL:       v.GetString("database.url"),
		ListenAddr:        v.GetString("server.listen_addr"),
		JWTSecret:         v.GetString("auth.jwt_secret"),
		ClassifierBaseURL: v.GetString("classifier.base_url"),
		ClassifierTimeout: time.Duration(v.GetInt("classifier.timeout_seconds")) * time.Second,
		FeeRateBps:        v.GetInt64("revenue.fee_rate_bps"),
		PlatformAddress:   v.GetString("revenue.platform_address"),
		MaxChainDepth:     v.GetInt("work.max_chain_depth"),
		LogLevel:          v.GetString("log.level"),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: database url is required (DATABASE_URL)")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: jwt secret is required (JWT_SECRET)")
	}
	if cfg.FeeRateBps < 0 || cfg.FeeRateBps > 10000 {
		return Config{}, fmt.Errorf("config: fee rate %d out of range [0,10000]", cfg.FeeRateBps)
	}
	return cfg, nil
}
