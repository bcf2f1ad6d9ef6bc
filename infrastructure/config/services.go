package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadServicesConfig loads the services configuration from config/services.yaml
func LoadServicesConfig() (*ServicesConfig, error) {
	return LoadServicesConfigFromPath(filepath.Join("config", "services.yaml"))
}

// LoadServicesConfigFromPath loads the services configuration from a specific path
func LoadServicesConfigFromPath(path string) (*ServicesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services config: %w", err)
	}

	var cfg ServicesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services config: %w", err)
	}

	// Validate that all services have required fields
	for id, settings := range cfg.Services {
		if settings.Port == 0 {
			return nil, fmt.Errorf("service %s: port is required", id)
		}
	}

	return &cfg, nil
}

// LoadServicesConfigOrDefault loads services config or returns default if file not found
func LoadServicesConfigOrDefault() *ServicesConfig {
	cfg, err := LoadServicesConfig()
	if err != nil {
		// Return default configuration with all services enabled
		return DefaultServicesConfig()
	}
	return cfg
}

// DefaultServicesConfig returns the default services configuration.
func DefaultServicesConfig() *ServicesConfig {
	return &ServicesConfig{
		Services: map[string]*ServiceSettings{
			"auth": {
				Enabled:     true,
				Port:        8081,
				Description: "Sessions, credentials, and service-to-service trust",
			},
			"request": {
				Enabled:     true,
				Port:        8082,
				Description: "Work-order lifecycle and request numbering",
			},
			"bot-gateway": {
				Enabled:     true,
				Port:        8083,
				Description: "Stateful conversational front-end",
			},
			"integration": {
				Enabled:     true,
				Port:        8084,
				Description: "Outbound adapters and inbound webhooks",
			},
			"dispatcher": {
				Enabled:     true,
				Port:        8085,
				Description: "Executor-to-request assignment scoring",
			},
			"notification": {
				Enabled:     true,
				Port:        8086,
				Description: "Multi-channel notification delivery",
			},
			"media": {
				Enabled:     true,
				Port:        8087,
				Description: "Streaming media uploads",
			},
		},
	}
}
