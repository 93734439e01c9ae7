package study

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL string `yaml:"base_url"`
	// RequestTimeoutSeconds bounds every remote call. The protocol has
	// no timeout of its own, so the client imposes this one.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
	// MinChatMessages gates "complete chat interaction". A policy
	// value, not a structural one.
	MinChatMessages int `yaml:"min_chat_messages"`
	// ArchivePath enables the local transcript archive when set.
	ArchivePath string `yaml:"archive_path"`
	Theme       string `yaml:"theme"`
	LogPath     string `yaml:"log_path"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:               "http://localhost:5000/api",
		RequestTimeoutSeconds: 30,
		MinChatMessages:       4,
	}
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return applyEnv(cfg), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return applyEnv(cfg), nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:5000/api"
	}
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = 30
	}
	if cfg.MinChatMessages <= 0 {
		cfg.MinChatMessages = 4
	}
	return applyEnv(cfg), nil
}

// applyEnv lets the environment override the file, matching how the
// service side configures itself.
func applyEnv(cfg Config) Config {
	if v := os.Getenv("STUDY_API_BASE"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("STUDY_ARCHIVE_PATH"); v != "" {
		cfg.ArchivePath = v
	}
	if v := os.Getenv("STUDY_MIN_CHAT_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MinChatMessages = n
		}
	}
	if v := os.Getenv("STUDY_REQUEST_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeoutSeconds = n
		}
	}
	return cfg
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "study-client", "config.yml")
}

func DefaultLogPath() string {
	p := DefaultConfigPath()
	if p == "" {
		return filepath.Join(os.TempDir(), "study-client", "client.log")
	}
	return filepath.Join(filepath.Dir(p), "client.log")
}
