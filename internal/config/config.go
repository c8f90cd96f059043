// Package config holds the runtime configuration for the server, loaded
// from environment variables and optionally overlaid from a YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port         string `yaml:"port" env:"PORT" env-default:"3000"`
	ArtifactRoot string `yaml:"artifact_root" env:"ARTIFACT_ROOT" env-default:"downloads"`
	StaticDir    string `yaml:"static_dir" env:"STATIC_DIR" env-default:"public"`

	// Credential material for authenticated fetches. CookiesContent, when
	// set, is written to CookiesFile by the credential provider at
	// construction time; the file itself is what the fetch tool consumes.
	CookiesFile    string `yaml:"cookies_file" env:"COOKIES_FILE" env-default:"cookies.txt"`
	CookiesContent string `yaml:"-" env:"COOKIES_CONTENT"`

	FetchBinary  string        `yaml:"fetch_binary" env:"FETCH_BINARY"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT" env-default:"10m"`
	FetchRetries int           `yaml:"fetch_retries" env:"FETCH_RETRIES" env-default:"2"`
	Format       string        `yaml:"format" env:"FORMAT" env-default:"best"`

	RateLimitMax    int           `yaml:"rate_limit_max" env:"RATE_LIMIT_MAX" env-default:"5"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window" env:"RATE_LIMIT_WINDOW" env-default:"15m"`

	// Optional YAML file listing additional allowed source hosts.
	ExtraHostsFile string `yaml:"extra_hosts_file" env:"EXTRA_HOSTS_FILE"`

	Debug bool `yaml:"debug" env:"DEBUG" env-default:"false"`
}

// Load reads configuration from the environment, or from the given YAML
// file overlaid with the environment when path is non-empty.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.RateLimitMax <= 0 {
		return fmt.Errorf("rate limit max must be positive, got %d", cfg.RateLimitMax)
	}
	if cfg.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", cfg.RateLimitWindow)
	}
	if cfg.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %s", cfg.FetchTimeout)
	}
	if cfg.FetchRetries < 0 {
		return fmt.Errorf("fetch retries must not be negative, got %d", cfg.FetchRetries)
	}
	return nil
}
