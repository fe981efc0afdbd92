package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	BackendURL  string   `mapstructure:"BACKEND_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// Outbound timeouts per backend endpoint, in seconds. Health stays
	// tight; the debate/differential turns allow for backend queuing and
	// model retries.
	HealthTimeoutSecs       int `mapstructure:"BACKEND_TIMEOUT_HEALTH"`
	DifferentialTimeoutSecs int `mapstructure:"BACKEND_TIMEOUT_DIFFERENTIAL"`
	DebateTimeoutSecs       int `mapstructure:"BACKEND_TIMEOUT_DEBATE"`
	SummaryTimeoutSecs      int `mapstructure:"BACKEND_TIMEOUT_SUMMARY"`
	ImageTimeoutSecs        int `mapstructure:"BACKEND_TIMEOUT_IMAGE"`
	LabsTimeoutSecs         int `mapstructure:"BACKEND_TIMEOUT_LABS"`

	CaseTTLMinutes   int  `mapstructure:"CASE_TTL_MINUTES"`
	CaseCapacity     int  `mapstructure:"CASE_CAPACITY"`
	MaxUploadMB      int  `mapstructure:"MAX_UPLOAD_MB"`
	RateLimitEnabled bool `mapstructure:"RATE_LIMIT_ENABLED"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("BACKEND_URL", "http://localhost:8000")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BACKEND_TIMEOUT_HEALTH", 5)
	v.SetDefault("BACKEND_TIMEOUT_DIFFERENTIAL", 295)
	v.SetDefault("BACKEND_TIMEOUT_DEBATE", 295)
	v.SetDefault("BACKEND_TIMEOUT_SUMMARY", 120)
	v.SetDefault("BACKEND_TIMEOUT_IMAGE", 120)
	v.SetDefault("BACKEND_TIMEOUT_LABS", 120)
	v.SetDefault("CASE_TTL_MINUTES", 120)
	v.SetDefault("CASE_CAPACITY", 1024)
	v.SetDefault("MAX_UPLOAD_MB", 10)
	v.SetDefault("RATE_LIMIT_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("BACKEND_URL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("BACKEND_TIMEOUT_HEALTH")
	v.BindEnv("BACKEND_TIMEOUT_DIFFERENTIAL")
	v.BindEnv("BACKEND_TIMEOUT_DEBATE")
	v.BindEnv("BACKEND_TIMEOUT_SUMMARY")
	v.BindEnv("BACKEND_TIMEOUT_IMAGE")
	v.BindEnv("BACKEND_TIMEOUT_LABS")
	v.BindEnv("CASE_TTL_MINUTES")
	v.BindEnv("CASE_CAPACITY")
	v.BindEnv("MAX_UPLOAD_MB")
	v.BindEnv("RATE_LIMIT_ENABLED")
	v.BindEnv("TLS_ENABLED")
	v.BindEnv("TLS_CERT_FILE")
	v.BindEnv("TLS_KEY_FILE")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if !cfg.RateLimitEnabled {
		log.Println("WARNING: rate limiting is disabled (RATE_LIMIT_ENABLED=false).")
		log.Println("WARNING: every request will reach the AI backend unthrottled.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the gateway is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HealthTimeout and friends expose the per-endpoint outbound deadlines as
// durations. The seconds-granularity env knobs keep .env files readable.
func (c *Config) HealthTimeout() time.Duration { return secs(c.HealthTimeoutSecs) }

func (c *Config) DifferentialTimeout() time.Duration { return secs(c.DifferentialTimeoutSecs) }

func (c *Config) DebateTimeout() time.Duration { return secs(c.DebateTimeoutSecs) }

func (c *Config) SummaryTimeout() time.Duration { return secs(c.SummaryTimeoutSecs) }

func (c *Config) ImageTimeout() time.Duration { return secs(c.ImageTimeoutSecs) }

func (c *Config) LabsTimeout() time.Duration { return secs(c.LabsTimeoutSecs) }

// CaseTTL is how long an untouched case survives in the store.
func (c *Config) CaseTTL() time.Duration {
	return time.Duration(c.CaseTTLMinutes) * time.Minute
}

// MaxUploadBytes is the request body ceiling for multipart routes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Validate checks that the configuration is safe to run. The backend URL must
// be an absolute http(s) URL, every outbound timeout must be positive, and the
// case store bounds must be sane. When TLS is enabled, cert and key files must
// both be specified.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil {
		return fmt.Errorf("BACKEND_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("BACKEND_URL must use http or https, got %q", c.BackendURL)
	}
	if u.Host == "" {
		return fmt.Errorf("BACKEND_URL must include a host, got %q", c.BackendURL)
	}

	for name, v := range map[string]int{
		"BACKEND_TIMEOUT_HEALTH":       c.HealthTimeoutSecs,
		"BACKEND_TIMEOUT_DIFFERENTIAL": c.DifferentialTimeoutSecs,
		"BACKEND_TIMEOUT_DEBATE":       c.DebateTimeoutSecs,
		"BACKEND_TIMEOUT_SUMMARY":      c.SummaryTimeoutSecs,
		"BACKEND_TIMEOUT_IMAGE":        c.ImageTimeoutSecs,
		"BACKEND_TIMEOUT_LABS":         c.LabsTimeoutSecs,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	if c.CaseCapacity <= 0 {
		return fmt.Errorf("CASE_CAPACITY must be positive, got %d", c.CaseCapacity)
	}
	if c.CaseTTLMinutes <= 0 {
		return fmt.Errorf("CASE_TTL_MINUTES must be positive, got %d", c.CaseTTLMinutes)
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
