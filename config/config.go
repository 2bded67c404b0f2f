// Package config loads the service configuration from a YAML file or URL,
// with environment variables taking precedence.
package config

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/llmrelay/llmrelay"
	"github.com/llmrelay/llmrelay/health"
	"github.com/llmrelay/llmrelay/utils/env"
)

// HealthSettings configures the health tracker. Durations are strings like
// "5m" so they read naturally in YAML.
type HealthSettings struct {
	// Window within which failures and successes count as recent. E.g., 5m
	FailureWindow string `yaml:"failure_window"`

	// Number of recent failures that triggers a priority penalty.
	FailureThreshold int `yaml:"failure_threshold"`

	// How long a penalized provider must stay quiet before its penalty
	// auto-resets. E.g., 10m
	RecoveryTime string `yaml:"recovery_time"`
}

// Config represents the full application configuration
type Config struct {
	// Valkey (open-source version of Redis) endpoint for sharing health
	// state across replicas. Empty means in-memory tracking only.
	// E.g., localhost:6379
	ValkeyEndpoint string `yaml:"valkey_endpoint"`

	// API key to access the admin endpoints. The caller should provide this
	// key in the Authorization header with the Bearer scheme.
	AdminApiKey string `yaml:"admin_api_key"`

	// Port to listen for incoming requests.
	Port int `yaml:"port"`

	// Namespace prefix for Prometheus metrics.
	MetricsNamespace string `yaml:"metrics_namespace"`

	// Health tracker parameters.
	Health HealthSettings `yaml:"health"`

	// Candidate providers available for selection.
	Providers []llmrelay.ProviderRef `yaml:"providers"`
}

// LoadConfig loads the configuration from the specified path
func LoadConfig(path string, logger *zap.SugaredLogger) (*Config, error) {
	// Setting default values
	config := Config{
		Port:             8080,
		MetricsNamespace: "llmrelay",
		Health: HealthSettings{
			FailureWindow:    "5m",
			FailureThreshold: 3,
			RecoveryTime:     "10m",
		},
	}

	// Checks if config is specified via environment variable.
	configSource := env.OptionalStringVariable("CONFIG_SOURCE", path)
	configToken := env.OptionalStringVariable("CONFIG_TOKEN", "")
	configData, err := func(configSource string, configToken string) ([]byte, error) {
		// Handle URL or local path
		if strings.HasPrefix(configSource, "http://") || strings.HasPrefix(configSource, "https://") {
			logger.Infow("Fetching remote config", "url", configSource)
			return fetchRemoteConfig(configSource, configToken)
		}
		logger.Infow("Loading local config", "path", configSource)
		return os.ReadFile(configSource)
	}(configSource, configToken)

	if err != nil {
		return nil, fmt.Errorf("failed to get config data: %v", err)
	}

	// Overrides config with the YAML data.
	if err := yaml.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	// Overrides config with environment variables.
	// Therefore, the values from the environment variables precede the values from the YAML file.
	config.ValkeyEndpoint = env.OptionalStringVariable("VALKEY_ENDPOINT", config.ValkeyEndpoint)
	config.AdminApiKey = env.OptionalStringVariable("LLMRELAY_API_KEY", config.AdminApiKey)
	config.Port = env.OptionalIntVariable("PORT", config.Port)
	config.Health.FailureWindow = env.OptionalStringVariable("FAILURE_WINDOW", config.Health.FailureWindow)
	config.Health.FailureThreshold = env.OptionalIntVariable("FAILURE_THRESHOLD", config.Health.FailureThreshold)
	config.Health.RecoveryTime = env.OptionalStringVariable("RECOVERY_TIME", config.Health.RecoveryTime)

	return &config, nil
}

// TrackerConfig converts the YAML-level health settings into the tracker's
// duration-typed configuration.
func (c *Config) TrackerConfig() (health.Config, error) {
	failureWindow, err := time.ParseDuration(c.Health.FailureWindow)
	if err != nil {
		return health.Config{}, fmt.Errorf("invalid failure window: %v", err)
	}
	recoveryTime, err := time.ParseDuration(c.Health.RecoveryTime)
	if err != nil {
		return health.Config{}, fmt.Errorf("invalid recovery time: %v", err)
	}
	return health.Config{
		FailureWindow:    failureWindow,
		FailureThreshold: c.Health.FailureThreshold,
		RecoveryTime:     recoveryTime,
	}, nil
}

func fetchRemoteConfig(url string, token string) ([]byte, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch config: HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
