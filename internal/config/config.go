// Package config loads sentinel's policy file with koanf and layers
// environment overrides on top, the same way the teacher loads its
// policy yaml.
package config

import (
	"os"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Server struct {
	Addr string `yaml:"addr"`
}

type Store struct {
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

type Telemetry struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	ChainDelayMS    int     `yaml:"chain_delay_ms"`
	SuspiciousRate  float64 `yaml:"suspicious_rate"`
}

type Anomaly struct {
	Threshold     float64 `yaml:"threshold"`
	Contamination float64 `yaml:"contamination"`
	NumTrees      int     `yaml:"num_trees"`
	MinTrainSize  int     `yaml:"min_train_size"`
}

type Auth struct {
	JWTSecret        string `yaml:"jwt_secret"`
	MaxLoginAttempts int    `yaml:"max_login_attempts"`
	LoginWindowSecs  int    `yaml:"login_window_seconds"`
}

type LLM struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type CORS struct {
	Origins []string `yaml:"origins"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Store     Store     `yaml:"store"`
	Telemetry Telemetry `yaml:"telemetry"`
	Anomaly   Anomaly   `yaml:"anomaly"`
	Auth      Auth      `yaml:"auth"`
	LLM       LLM       `yaml:"llm"`
	CORS      CORS      `yaml:"cors"`
	Debug     bool      `yaml:"debug"`
	DemoMode  bool      `yaml:"demo_mode"`
}

// Load reads the yaml policy file at path (falling back to
// configs/sentinel.yaml), then applies environment overrides — the
// secrets and per-deployment knobs spec.md §6 lists are read from env
// with defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/sentinel.yaml"
	}

	k := koanf.New(".")
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	cfg := defaultConfig()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server:    Server{Addr: ":8080"},
		Store:     Store{RedisAddr: "redis:6379", RedisDB: 0},
		Telemetry: Telemetry{IntervalSeconds: 5, ChainDelayMS: 300, SuspiciousRate: 0.05},
		Anomaly:   Anomaly{Threshold: 0.75, Contamination: 0.1, NumTrees: 100, MinTrainSize: 10},
		Auth:      Auth{MaxLoginAttempts: 5, LoginWindowSecs: 60},
		LLM:       LLM{Enabled: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Addr = MustEnv("SENTINEL_HTTP_ADDR", cfg.Server.Addr)
	cfg.Store.RedisAddr = MustEnv("STORE_URL", cfg.Store.RedisAddr)
	cfg.Auth.JWTSecret = MustEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.LLM.APIKey = MustEnv("EXTERNAL_LLM_KEY", cfg.LLM.APIKey)
	if cfg.LLM.APIKey != "" {
		cfg.LLM.Enabled = true
	}
	cfg.LLM.Endpoint = MustEnv("EXTERNAL_LLM_ENDPOINT", cfg.LLM.Endpoint)

	if v := os.Getenv("TELEMETRY_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Telemetry.IntervalSeconds = n
		}
	}
	if v := os.Getenv("ANOMALY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Anomaly.Threshold = f
		}
	}
	if v := os.Getenv("ML_CONTAMINATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Anomaly.Contamination = f
		}
	}
	if v := os.Getenv("DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := os.Getenv("DEMO_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DemoMode = b
		}
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORS.Origins = splitCSV(v)
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// MustEnv returns the environment variable or a default, matching the
// teacher's own MustEnv helper.
func MustEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
