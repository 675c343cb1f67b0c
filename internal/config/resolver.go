// Package config resolves canon settings from the config file, the
// environment and CLI flags, in that order of increasing precedence, and
// records where each value came from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Int parses the value, returning fallback when it is empty or malformed.
func (v ResolvedValue) Int(fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v.Value))
	if err != nil {
		return fallback
	}
	return n
}

// Duration parses the value as a time.Duration ("720h") or a bare number of
// seconds, returning fallback when it is empty or malformed.
func (v ResolvedValue) Duration(fallback time.Duration) time.Duration {
	s := strings.TrimSpace(v.Value)
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

type ResolveOptions struct {
	ConfigPath      string
	CLILLM          string
	CLIDBPath       string
	CLICache        string
	CLIMaxChars     string
	CLIOverlapChars string
	CLIParallelism  string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath ResolvedValue `json:"db_path"`
	LLM    ResolvedValue `json:"llm"`

	Cache         ResolvedValue `json:"cache"`
	CacheTTL      ResolvedValue `json:"cache_ttl"`
	CacheSize     ResolvedValue `json:"cache_size"`
	RedisAddr     ResolvedValue `json:"redis_addr"`
	RedisPassword ResolvedValue `json:"redis_password"`

	MaxChars     ResolvedValue `json:"max_chars"`
	OverlapChars ResolvedValue `json:"overlap_chars"`
	Parallelism  ResolvedValue `json:"parallelism"`
	Locator      ResolvedValue `json:"locator"`

	LogMode  ResolvedValue `json:"log_mode"`
	LogLevel ResolvedValue `json:"log_level"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	LLM    struct {
		Model  string `yaml:"model"`
		APIKey string `yaml:"api_key"`
	} `yaml:"llm"`
	Cache struct {
		Backend       string `yaml:"backend"`
		TTL           string `yaml:"ttl"`
		Size          string `yaml:"size"`
		RedisAddr     string `yaml:"redis_addr"`
		RedisPassword string `yaml:"redis_password"`
	} `yaml:"cache"`
	Extract struct {
		MaxChars     string `yaml:"max_chars"`
		OverlapChars string `yaml:"overlap_chars"`
		Parallelism  string `yaml:"parallelism"`
		Locator      string `yaml:"locator"`
	} `yaml:"extract"`
	Log struct {
		Mode  string `yaml:"mode"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".canon", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}
	applyDefaults(&out)

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LLM, cfg.LLM.Model, SourceConfig, path)
		apply(&out.Cache, cfg.Cache.Backend, SourceConfig, path)
		apply(&out.CacheTTL, cfg.Cache.TTL, SourceConfig, path)
		apply(&out.CacheSize, cfg.Cache.Size, SourceConfig, path)
		apply(&out.RedisAddr, cfg.Cache.RedisAddr, SourceConfig, path)
		apply(&out.RedisPassword, cfg.Cache.RedisPassword, SourceConfig, path)
		apply(&out.MaxChars, cfg.Extract.MaxChars, SourceConfig, path)
		apply(&out.OverlapChars, cfg.Extract.OverlapChars, SourceConfig, path)
		apply(&out.Parallelism, cfg.Extract.Parallelism, SourceConfig, path)
		apply(&out.Locator, cfg.Extract.Locator, SourceConfig, path)
		apply(&out.LogMode, cfg.Log.Mode, SourceConfig, path)
		apply(&out.LogLevel, cfg.Log.Level, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			provider := providerOf(cfg.LLM.Model)
			if provider == "" {
				provider = "default"
			}
			out.LLMKeys[provider] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.DBPath, "CANON_DB")
	applyEnv(&out.LLM, "CANON_LLM")
	applyEnv(&out.Cache, "CANON_CACHE")
	applyEnv(&out.CacheTTL, "CANON_CACHE_TTL")
	applyEnv(&out.CacheSize, "CANON_CACHE_SIZE")
	applyEnv(&out.RedisAddr, "CANON_REDIS_ADDR")
	applyEnv(&out.RedisPassword, "CANON_REDIS_PASSWORD")
	applyEnv(&out.MaxChars, "CANON_MAX_CHARS")
	applyEnv(&out.OverlapChars, "CANON_OVERLAP_CHARS")
	applyEnv(&out.Parallelism, "CANON_PARALLELISM")
	applyEnv(&out.Locator, "CANON_LOCATOR")
	applyEnv(&out.LogMode, "CANON_LOG")
	applyEnv(&out.LogLevel, "CANON_LOG_LEVEL")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"OPENAI_API_KEY":     "openai",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
		"DEEPSEEK_API_KEY":   "deepseek",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLM, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.Cache, opts.CLICache, SourceCLI, "--cache")
	apply(&out.MaxChars, opts.CLIMaxChars, SourceCLI, "--max-chars")
	apply(&out.OverlapChars, opts.CLIOverlapChars, SourceCLI, "--overlap-chars")
	apply(&out.Parallelism, opts.CLIParallelism, SourceCLI, "--parallelism")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	if err := out.validate(); err != nil {
		return out, err
	}
	return out, nil
}

func applyDefaults(out *ResolvedConfig) {
	def := func(dst *ResolvedValue, v string) {
		*dst = ResolvedValue{Value: v, Source: SourceDefault, From: "built-in default"}
	}
	def(&out.DBPath, "~/.canon/canon.db")
	def(&out.LLM, "google/gemini-2.5-flash")
	def(&out.Cache, "sqlite")
	def(&out.CacheTTL, "720h")
	def(&out.CacheSize, "1024")
	def(&out.Parallelism, "1")
	def(&out.Locator, "regex")
	def(&out.LogMode, "prod")
	def(&out.LogLevel, "info")
}

// CacheBackends lists accepted values for the cache setting.
func CacheBackends() []string {
	return []string{"sqlite", "memory", "tiered", "redis", "none"}
}

func (r ResolvedConfig) validate() error {
	if !contains(CacheBackends(), strings.ToLower(r.Cache.Value)) {
		return fmt.Errorf("invalid cache backend %q from %s (supported: %s)", r.Cache.Value, r.Cache.Source, strings.Join(CacheBackends(), ", "))
	}
	if b := strings.ToLower(r.Cache.Value); (b == "redis" || b == "tiered") && r.RedisAddr.Value == "" {
		return fmt.Errorf("cache backend %q requires CANON_REDIS_ADDR or cache.redis_addr", b)
	}
	if !contains([]string{"regex", "levenshtein"}, strings.ToLower(r.Locator.Value)) {
		return fmt.Errorf("invalid evidence locator %q (supported: regex, levenshtein)", r.Locator.Value)
	}
	for _, v := range []struct {
		name string
		val  ResolvedValue
	}{{"max_chars", r.MaxChars}, {"overlap_chars", r.OverlapChars}, {"parallelism", r.Parallelism}, {"cache_size", r.CacheSize}} {
		if v.val.Value == "" {
			continue
		}
		if _, err := strconv.Atoi(v.val.Value); err != nil {
			return fmt.Errorf("invalid %s %q from %s: not an integer", v.name, v.val.Value, v.val.Source)
		}
	}
	if r.CacheTTL.Duration(-1) <= 0 {
		return fmt.Errorf("invalid cache_ttl %q from %s", r.CacheTTL.Value, r.CacheTTL.Source)
	}
	return nil
}

func (r ResolvedConfig) APIKeyForProvider(providerOrModel string) ResolvedValue {
	provider := providerOf(providerOrModel)
	if provider == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[provider]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func providerOf(providerOrModel string) string {
	v := strings.ToLower(strings.TrimSpace(providerOrModel))
	if v == "" {
		return ""
	}
	if idx := strings.Index(v, "/"); idx > 0 {
		return v[:idx]
	}
	return v
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
