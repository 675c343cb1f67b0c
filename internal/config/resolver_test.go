package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	cfgPath := writeConfig(t, `db_path: ~/.canon/from-config.db
llm:
  model: openrouter/openai/gpt-4o-mini
cache:
  backend: memory
extract:
  max_chars: 9000
  parallelism: 2
`)

	t.Setenv("CANON_DB", "~/from-env.db")
	t.Setenv("CANON_LLM", "google/gemini-2.5-flash")
	t.Setenv("CANON_MAX_CHARS", "8000")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath:  cfgPath,
		CLILLM:      "openai/gpt-4o",
		CLIDBPath:   "~/from-cli.db",
		CLIMaxChars: "6000",
	})
	require.NoError(t, err)

	assert.Equal(t, SourceCLI, resolved.DBPath.Source)
	assert.Equal(t, SourceCLI, resolved.LLM.Source)
	assert.Equal(t, "openai/gpt-4o", resolved.LLM.Value)
	assert.Equal(t, 6000, resolved.MaxChars.Int(0))
	assert.Equal(t, SourceConfig, resolved.Cache.Source)
	assert.Equal(t, "memory", resolved.Cache.Value)
	assert.Equal(t, 2, resolved.Parallelism.Int(1))
	assert.Equal(t, SourceDefault, resolved.Locator.Source)
}

func TestResolveConfig_MissingFileUsesDefaults(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "absent.yaml")})
	require.NoError(t, err)

	assert.Equal(t, "google/gemini-2.5-flash", resolved.LLM.Value)
	assert.Equal(t, SourceDefault, resolved.LLM.Source)
	assert.Equal(t, "sqlite", resolved.Cache.Value)
	assert.Equal(t, 30*24*time.Hour, resolved.CacheTTL.Duration(0))
	assert.Equal(t, 0, resolved.MaxChars.Int(0))
	assert.NotContains(t, resolved.DBPath.Value, "~")
}

func TestResolveConfig_RejectsBadValues(t *testing.T) {
	absent := filepath.Join(t.TempDir(), "absent.yaml")

	_, err := ResolveConfig(ResolveOptions{ConfigPath: absent, CLICache: "memcached"})
	assert.ErrorContains(t, err, "invalid cache backend")

	_, err = ResolveConfig(ResolveOptions{ConfigPath: absent, CLICache: "redis"})
	assert.ErrorContains(t, err, "requires CANON_REDIS_ADDR")

	_, err = ResolveConfig(ResolveOptions{ConfigPath: absent, CLIMaxChars: "lots"})
	assert.ErrorContains(t, err, "invalid max_chars")

	t.Setenv("CANON_CACHE_TTL", "soon")
	_, err = ResolveConfig(ResolveOptions{ConfigPath: absent})
	assert.ErrorContains(t, err, "invalid cache_ttl")
}

func TestResolveConfig_MalformedYAML(t *testing.T) {
	cfgPath := writeConfig(t, "llm: [unclosed")
	_, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	assert.ErrorContains(t, err, "parsing")
}

func TestResolvedValueDuration(t *testing.T) {
	assert.Equal(t, 90*time.Second, ResolvedValue{Value: "90"}.Duration(0))
	assert.Equal(t, 2*time.Hour, ResolvedValue{Value: "2h"}.Duration(0))
	assert.Equal(t, time.Minute, ResolvedValue{Value: "later"}.Duration(time.Minute))
}

func TestAPIKeyForProvider_EnvOverridesConfig(t *testing.T) {
	cfgPath := writeConfig(t, `llm:
  model: openrouter/x-ai/grok-4.1-fast
  api_key: config-key
`)
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: cfgPath})
	require.NoError(t, err)

	k := resolved.APIKeyForProvider("openrouter/some-model")
	assert.Equal(t, "env-key", k.Value)
	assert.Equal(t, SourceEnv, k.Source)
}

func TestAPIKeyForProvider_ConfigKeyWithoutProvider(t *testing.T) {
	resolved := ResolvedConfig{LLMKeys: map[string]ResolvedValue{
		"default": {Value: "shared", Source: SourceConfig},
	}}
	assert.Equal(t, "shared", resolved.APIKeyForProvider("deepseek/deepseek-chat").Value)
	assert.Empty(t, resolved.APIKeyForProvider("").Value)
}
