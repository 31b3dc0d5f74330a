// Package cfg loads tool configuration from a YAML file with environment
// variable overrides, falling back to environment-only configuration when
// no file is given.
package cfg

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the resolved runtime configuration.
type Settings struct {
	ModelPath         string
	ModelsDir         string
	DataPath          string
	Explainer         string
	BackgroundSamples int
	AllowRemote       bool
	FetchTimeout      time.Duration
	DashboardPort     int
	LogLevel          string
}

// ConfigFile is the YAML layout.
type ConfigFile struct {
	Model struct {
		Path string `yaml:"path"`
		Dir  string `yaml:"dir"`
	} `yaml:"model"`

	Explain struct {
		Method            string `yaml:"method"`
		BackgroundSamples int    `yaml:"backgroundSamples"`
	} `yaml:"explain"`

	Fetch struct {
		AllowRemote bool   `yaml:"allowRemote"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"fetch"`

	System struct {
		DataPath      string `yaml:"dataPath"`
		DashboardPort int    `yaml:"dashboardPort"`
		LogLevel      string `yaml:"logLevel"`
	} `yaml:"system"`
}

// Load resolves settings from CONFIG_FILE when set, otherwise from the
// environment alone.
func Load() (Settings, error) {
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv(), nil
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	fetchTimeout, err := time.ParseDuration(config.Fetch.Timeout)
	if err != nil {
		fetchTimeout = 30 * time.Second
	}

	s := Settings{
		ModelPath:         getEnvOrDefault("XAIVIZ_MODEL_PATH", config.Model.Path),
		ModelsDir:         getEnvOrDefault("XAIVIZ_MODELS_DIR", config.Model.Dir),
		DataPath:          getEnvOrDefault("XAIVIZ_DATA_PATH", config.System.DataPath),
		Explainer:         getEnvOrDefault("XAIVIZ_EXPLAINER", config.Explain.Method),
		BackgroundSamples: config.Explain.BackgroundSamples,
		AllowRemote:       config.Fetch.AllowRemote,
		FetchTimeout:      fetchTimeout,
		DashboardPort:     config.System.DashboardPort,
		LogLevel:          getEnvOrDefault("LOG_LEVEL", config.System.LogLevel),
	}
	applyDefaults(&s)
	return s, nil
}

func loadFromEnv() Settings {
	s := Settings{
		ModelPath:         os.Getenv("XAIVIZ_MODEL_PATH"),
		ModelsDir:         os.Getenv("XAIVIZ_MODELS_DIR"),
		DataPath:          os.Getenv("XAIVIZ_DATA_PATH"),
		Explainer:         os.Getenv("XAIVIZ_EXPLAINER"),
		BackgroundSamples: getEnvAsInt("XAIVIZ_BACKGROUND_SAMPLES", 0),
		AllowRemote:       getEnvAsBool("XAIVIZ_ALLOW_REMOTE", false),
		FetchTimeout:      getEnvAsDuration("XAIVIZ_FETCH_TIMEOUT", 30*time.Second),
		DashboardPort:     getEnvAsInt("XAIVIZ_DASHBOARD_PORT", 0),
		LogLevel:          os.Getenv("LOG_LEVEL"),
	}
	applyDefaults(&s)
	return s
}

func applyDefaults(s *Settings) {
	if s.ModelsDir == "" {
		s.ModelsDir = "models"
	}
	if s.BackgroundSamples <= 0 {
		s.BackgroundSamples = 25
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(name string, defaultVal int) int {
	if v, err := strconv.Atoi(os.Getenv(name)); err == nil {
		return v
	}
	return defaultVal
}

func getEnvAsBool(name string, defaultVal bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(name)); err == nil {
		return v
	}
	return defaultVal
}

func getEnvAsDuration(name string, defaultVal time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(name)); err == nil {
		return v
	}
	return defaultVal
}
