package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultPolicyPath = ".cmdbridge/policy.json"

const (
	TransportNone   = "none"
	TransportMemory = "memory"
	TransportRedis  = "redis"
)

type Config struct {
	Version    int      `json:"version" yaml:"version"`
	Namespaces []string `json:"namespaces" yaml:"namespaces"`
	Listing    struct {
		PinnedGroup   string `json:"pinned_group" yaml:"pinned_group"`
		FallbackGroup string `json:"fallback_group" yaml:"fallback_group"`
	} `json:"listing" yaml:"listing"`
	Server struct {
		Addr string `json:"addr" yaml:"addr"`
	} `json:"server" yaml:"server"`
	Transport Transport `json:"transport" yaml:"transport"`
}

type Transport struct {
	Driver string `json:"driver" yaml:"driver"`
	Topic  string `json:"topic" yaml:"topic"`
	Redis  Redis  `json:"redis" yaml:"redis"`
}

type Redis struct {
	URL             string `json:"url" yaml:"url"`
	ConsumerGroup   string `json:"consumer_group" yaml:"consumer_group"`
	Consumer        string `json:"consumer" yaml:"consumer"`
	ConnectAttempts int    `json:"connect_attempts" yaml:"connect_attempts"`
}

func Default() Config {
	cfg := Config{
		Version:    1,
		Namespaces: []string{},
	}
	cfg.Listing.PinnedGroup = "app"
	cfg.Listing.FallbackGroup = "other"
	cfg.Server.Addr = ":3001"
	cfg.Transport.Driver = TransportNone
	cfg.Transport.Topic = "cmdbridge.commands"
	cfg.Transport.Redis.ConsumerGroup = "cmdbridge"
	cfg.Transport.Redis.Consumer = "cmdbridge-worker"
	cfg.Transport.Redis.ConnectAttempts = 3
	return cfg
}

func Load(path string) (Config, string, error) {
	cfg := Default()
	finalPath := path
	if strings.TrimSpace(finalPath) == "" {
		finalPath = DefaultPolicyPath
	}
	if _, err := os.Stat(finalPath); os.IsNotExist(err) {
		return cfg, finalPath, nil
	}

	b, err := os.ReadFile(finalPath)
	if err != nil {
		return cfg, finalPath, fmt.Errorf("read policy %s: %w", finalPath, err)
	}
	if err := decode(finalPath, b, &cfg); err != nil {
		return cfg, finalPath, fmt.Errorf("parse policy %s: %w", finalPath, err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, finalPath, fmt.Errorf("validate policy %s: %w", finalPath, err)
	}
	return cfg, finalPath, nil
}

func decode(path string, b []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	default:
		return json.Unmarshal(b, cfg)
	}
}

func SaveDefault(path string) error {
	return Save(path, Default())
}

func Save(path string, cfg Config) error {
	var (
		b   []byte
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		b, err = yaml.Marshal(cfg)
	default:
		b, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func Validate(cfg Config) error {
	if cfg.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}
	if strings.TrimSpace(cfg.Listing.FallbackGroup) == "" {
		return fmt.Errorf("listing.fallback_group cannot be empty")
	}
	switch cfg.Transport.Driver {
	case "", TransportNone, TransportMemory:
	case TransportRedis:
		if strings.TrimSpace(cfg.Transport.Redis.URL) == "" {
			return fmt.Errorf("transport.redis.url is required for the redis driver")
		}
		if strings.TrimSpace(cfg.Transport.Redis.ConsumerGroup) == "" {
			return fmt.Errorf("transport.redis.consumer_group cannot be empty")
		}
	default:
		return fmt.Errorf("transport.driver must be none|memory|redis")
	}
	if cfg.Transport.Driver != "" && cfg.Transport.Driver != TransportNone && strings.TrimSpace(cfg.Transport.Topic) == "" {
		return fmt.Errorf("transport.topic cannot be empty")
	}
	if cfg.Transport.Redis.ConnectAttempts < 0 {
		return fmt.Errorf("transport.redis.connect_attempts must be >= 0")
	}
	return nil
}

// AllowedNamespaces returns the trimmed, non-empty allow-list entries.
func AllowedNamespaces(cfg Config) []string {
	out := make([]string, 0, len(cfg.Namespaces))
	for _, ns := range cfg.Namespaces {
		ns = strings.TrimSpace(ns)
		if ns == "" {
			continue
		}
		out = append(out, ns)
	}
	return out
}
