package config

import (
	"cmp"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is read from the environment. cmd/main.go loads a .env file first through
// godotenv/autoload.
type Config struct {
	Addr      string
	DataDir   string
	ConfigDir string
	StaticDir string
	LogLevel  string

	Store       string // file, redis or memory
	RedisURL    string
	RedisPrefix string

	GeneratorMode string // adaptive or simple

	MaxHistory    int
	SessionTTL    time.Duration
	SweepInterval time.Duration
	MaxVocabulary int
	PatternTTL    time.Duration
	ModelCacheTTL time.Duration

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
	GeminiKey     string
	GeminiModel   string
}

const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"

	GeneratorAdaptive = "adaptive"
	GeneratorSimple   = "simple"
)

// FromEnv builds a Config using lookup, normally os.Getenv.
func FromEnv(lookup func(string) string) (Config, error) {
	if lookup == nil {
		lookup = os.Getenv
	}
	get := func(key, def string) string {
		return cmp.Or(strings.TrimSpace(lookup(key)), def)
	}

	cfg := Config{
		Addr:          ":" + get("PORT", "8080"),
		DataDir:       get("DATA_DIR", "data"),
		ConfigDir:     get("CONFIG_DIR", ""),
		StaticDir:     get("STATIC_DIR", ""),
		LogLevel:      get("LOG_LEVEL", "info"),
		Store:         strings.ToLower(get("STORE", StoreFile)),
		RedisURL:      get("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix:   get("REDIS_PREFIX", "gombon"),
		GeneratorMode: strings.ToLower(get("GENERATOR_MODE", GeneratorAdaptive)),
		OpenAIKey:     get("OPENAI_API_KEY", ""),
		OpenAIModel:   get("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: get("OPENAI_BASE_URL", ""),
		GeminiKey:     get("GEMINI_API_KEY", ""),
		GeminiModel:   get("GEMINI_MODEL", "gemini-2.5-flash"),
	}

	var err error
	if cfg.MaxHistory, err = intVar(get("MAX_HISTORY", "200"), "MAX_HISTORY"); err != nil {
		return cfg, err
	}
	if cfg.MaxVocabulary, err = intVar(get("MAX_VOCABULARY", "1000"), "MAX_VOCABULARY"); err != nil {
		return cfg, err
	}
	if cfg.SessionTTL, err = durationVar(get("SESSION_TTL", "720h"), "SESSION_TTL"); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = durationVar(get("SWEEP_INTERVAL", "10m"), "SWEEP_INTERVAL"); err != nil {
		return cfg, err
	}
	if cfg.PatternTTL, err = durationVar(get("PATTERN_TTL", "24h"), "PATTERN_TTL"); err != nil {
		return cfg, err
	}
	if cfg.ModelCacheTTL, err = durationVar(get("MODEL_CACHE_TTL", "10m"), "MODEL_CACHE_TTL"); err != nil {
		return cfg, err
	}

	switch cfg.Store {
	case StoreFile, StoreRedis, StoreMemory:
	default:
		return cfg, fmt.Errorf("STORE must be file, redis or memory, got %q", cfg.Store)
	}
	switch cfg.GeneratorMode {
	case GeneratorAdaptive, GeneratorSimple:
	default:
		return cfg, fmt.Errorf("GENERATOR_MODE must be adaptive or simple, got %q", cfg.GeneratorMode)
	}

	return cfg, nil
}

func intVar(v, name string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, v)
	}
	return n, nil
}

func durationVar(v, name string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration, got %q", name, v)
	}
	return d, nil
}
