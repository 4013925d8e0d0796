package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig 服务配置
type ServerConfig struct {
	ListenAddr        string        `yaml:"listenAddr"`
	StorageType       string        `yaml:"storageType"`
	StorageDir        string        `yaml:"storageDir"`
	StagingDir        string        `yaml:"stagingDir"`
	UploadTTL         time.Duration `yaml:"-"`
	JobRetention      time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`
	ImageRetention    time.Duration `yaml:"-"`
	MaxUploadSize     int64         `yaml:"maxUploadSize"`
	QueueConcurrency  int           `yaml:"queueConcurrency"`

	// duration fields are strings in yaml ("5m", "15s") and parsed on load
	RawUploadTTL         string `yaml:"uploadTTL"`
	RawJobRetention      string `yaml:"jobRetention"`
	RawHeartbeatInterval string `yaml:"heartbeatInterval"`
	RawImageRetention    string `yaml:"imageRetention"`
}

// DefaultServerConfig returns the config used when no yaml file is present.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:        ":8080",
		StorageType:       "local",
		StorageDir:        "data/processed",
		StagingDir:        "data/staging",
		UploadTTL:         5 * time.Minute,
		JobRetention:      time.Hour,
		HeartbeatInterval: 15 * time.Second,
		ImageRetention:    24 * time.Hour,
		MaxUploadSize:     50 * 1024 * 1024, // 50MB
		QueueConcurrency:  5,
	}
}

// LoadServerConfig reads a yaml config file, falling back to defaults for
// missing fields. A missing file is not an error.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for _, d := range []struct {
		raw string
		dst *time.Duration
	}{
		{cfg.RawUploadTTL, &cfg.UploadTTL},
		{cfg.RawJobRetention, &cfg.JobRetention},
		{cfg.RawHeartbeatInterval, &cfg.HeartbeatInterval},
		{cfg.RawImageRetention, &cfg.ImageRetention},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q in config: %w", d.raw, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}
