package track

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// The ICP parameters have no defaults and must all be present
	if _, err := config.ICP.ToICPConfig(); err != nil {
		return nil, err
	}
	if config.QueueSize < 0 {
		return nil, fmt.Errorf("queueSize must not be negative")
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ToICPConfig converts the YAML settings into a validated ICPConfig
func (s ICPSettings) ToICPConfig() (ICPConfig, error) {
	switch {
	case s.MaxCorrespondenceDistance == nil:
		return ICPConfig{}, fmt.Errorf("icp.maxCorrespondenceDistance is required")
	case s.TransformationEpsilon == nil:
		return ICPConfig{}, fmt.Errorf("icp.transformationEpsilon is required")
	case s.FitnessEpsilon == nil:
		return ICPConfig{}, fmt.Errorf("icp.fitnessEpsilon is required")
	case s.MaxIterations == nil:
		return ICPConfig{}, fmt.Errorf("icp.maxIterations is required")
	}

	cfg := ICPConfig{
		MaxCorrespondenceDistance: *s.MaxCorrespondenceDistance,
		TransformationEpsilon:     *s.TransformationEpsilon,
		FitnessEpsilon:            *s.FitnessEpsilon,
		MaxIterations:             *s.MaxIterations,
		Reciprocal:                s.Reciprocal,
	}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return ICPConfig{}, fmt.Errorf("icp.timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if err := cfg.Validate(); err != nil {
		return ICPConfig{}, fmt.Errorf("icp: %w", err)
	}
	return cfg, nil
}
