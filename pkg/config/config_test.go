package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg, err := Parse([]byte(`{"llm":[{"type":"openai","models":["gpt-4o"]}],"system_prompt":"hi"}`))
		require.NoError(t, err)
		assert.Equal(t, "hi", cfg.SystemPrompt)
		assert.NotEmpty(t, cfg.LLM)
	})

	t.Run("missing llm section", func(t *testing.T) {
		_, err := Parse([]byte(`{"system_prompt":"hi"}`))
		assert.ErrorContains(t, err, "'llm' configuration is missing")
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := Parse([]byte(`{`))
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("database url from environment", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/lexy")
		cfg, err := Parse([]byte(`{"llm":[]}`))
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost/lexy", cfg.DatabaseURL)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	_, _, err := Load(dir)
	assert.ErrorContains(t, err, "not found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"llm":[{"type":"openai"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "system.json"), []byte(`{"max_retries":7,"log_level":"debug"}`), 0o644))

	cfg, sys, err := Load(dir)
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, 7, sys.MaxRetries)
	assert.Equal(t, "debug", sys.LogLevel)
	// Unset keys keep their defaults.
	assert.Equal(t, DefaultSystemConfig().RecursionLimit, sys.RecursionLimit)
}

func TestLoadSystemConfigFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.json")

	assert.Equal(t, DefaultSystemConfig(), LoadSystemConfig(path))

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	assert.Equal(t, DefaultSystemConfig(), LoadSystemConfig(path))
}

func TestExpandSecret(t *testing.T) {
	t.Setenv("LEXY_TEST_KEY", "sk-123")

	assert.Equal(t, "plain", ExpandSecret("plain"))
	assert.Equal(t, "sk-123", ExpandSecret("${LEXY_TEST_KEY}"))
	assert.Equal(t, "sk-123", ExpandSecret("$LEXY_TEST_KEY"))
	assert.Equal(t, "fallback", EnvOr("LEXY_TEST_UNSET", "fallback"))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEXY_DOTENV_VALUE=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("LEXY_DOTENV_VALUE") })

	LoadDotEnv(path, filepath.Join(dir, "missing.env"))
	assert.Equal(t, "from-file", os.Getenv("LEXY_DOTENV_VALUE"))
}

// waitForLevel drains change events until the reported file carries want.
// One save may produce several events.
func waitForLevel(t *testing.T, changed <-chan string, wantPath, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-changed:
			assert.Equal(t, wantPath, got)
			if LoadSystemConfig(got).LogLevel == want {
				return
			}
		case <-deadline:
			t.Fatalf("no change to log level %q reported", want)
		}
	}
}

func TestWatchConfig(t *testing.T) {
	reloadDebounce = 20 * time.Millisecond
	t.Cleanup(func() { reloadDebounce = 500 * time.Millisecond })

	dir := t.TempDir()
	path := filepath.Join(dir, "system.json")
	abs, err := filepath.Abs(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := WatchConfig(ctx, path)

	// unrelated files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644))
	select {
	case got := <-changed:
		t.Fatalf("unexpected change for %s", got)
	case <-time.After(200 * time.Millisecond):
	}

	// a file created after the watch started is reported
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level":"debug"}`), 0o644))
	waitForLevel(t, changed, abs, "debug")

	// an atomic replace is reported as well
	tmp := filepath.Join(dir, "system.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"log_level":"warn"}`), 0o644))
	require.NoError(t, os.Rename(tmp, path))
	waitForLevel(t, changed, abs, "warn")
}
