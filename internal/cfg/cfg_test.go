package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "XAIVIZ_MODEL_PATH", "XAIVIZ_MODELS_DIR",
		"XAIVIZ_DATA_PATH", "XAIVIZ_EXPLAINER", "XAIVIZ_BACKGROUND_SAMPLES",
		"XAIVIZ_ALLOW_REMOTE", "XAIVIZ_FETCH_TIMEOUT", "XAIVIZ_DASHBOARD_PORT",
		"LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "models", s.ModelsDir)
	assert.Equal(t, 25, s.BackgroundSamples)
	assert.Equal(t, 30*time.Second, s.FetchTimeout)
	assert.Equal(t, "info", s.LogLevel)
	assert.False(t, s.AllowRemote)
	assert.Empty(t, s.ModelPath)
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("XAIVIZ_MODEL_PATH", "models/tree.pkl")
	t.Setenv("XAIVIZ_EXPLAINER", "permutation")
	t.Setenv("XAIVIZ_BACKGROUND_SAMPLES", "50")
	t.Setenv("XAIVIZ_ALLOW_REMOTE", "true")
	t.Setenv("XAIVIZ_FETCH_TIMEOUT", "5s")
	t.Setenv("XAIVIZ_DASHBOARD_PORT", "8085")
	t.Setenv("LOG_LEVEL", "debug")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "models/tree.pkl", s.ModelPath)
	assert.Equal(t, "permutation", s.Explainer)
	assert.Equal(t, 50, s.BackgroundSamples)
	assert.True(t, s.AllowRemote)
	assert.Equal(t, 5*time.Second, s.FetchTimeout)
	assert.Equal(t, 8085, s.DashboardPort)
	assert.Equal(t, "debug", s.LogLevel)
}

func TestLoadFromYAML(t *testing.T) {
	clearEnv(t)
	configYAML := `
model:
  path: models/forest.json
  dir: artifacts
explain:
  method: decision_path
  backgroundSamples: 10
fetch:
  allowRemote: true
  timeout: 15s
system:
  dataPath: /tmp/xaiviz
  dashboardPort: 8090
  logLevel: warn
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))
	t.Setenv("CONFIG_FILE", path)

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "models/forest.json", s.ModelPath)
	assert.Equal(t, "artifacts", s.ModelsDir)
	assert.Equal(t, "decision_path", s.Explainer)
	assert.Equal(t, 10, s.BackgroundSamples)
	assert.True(t, s.AllowRemote)
	assert.Equal(t, 15*time.Second, s.FetchTimeout)
	assert.Equal(t, "/tmp/xaiviz", s.DataPath)
	assert.Equal(t, 8090, s.DashboardPort)
	assert.Equal(t, "warn", s.LogLevel)
}

func TestEnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	configYAML := `
model:
  path: models/from_yaml.pkl
system:
  logLevel: warn
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("XAIVIZ_MODEL_PATH", "models/from_env.pkl")
	t.Setenv("LOG_LEVEL", "trace")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "models/from_env.pkl", s.ModelPath)
	assert.Equal(t, "trace", s.LogLevel)
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestLoadBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unclosed"), 0o644))
	t.Setenv("CONFIG_FILE", path)
	_, err := Load()
	require.Error(t, err)
}

func TestBadTimeoutFallsBack(t *testing.T) {
	clearEnv(t)
	configYAML := `
fetch:
  timeout: not-a-duration
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o644))
	t.Setenv("CONFIG_FILE", path)

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, s.FetchTimeout)
}
