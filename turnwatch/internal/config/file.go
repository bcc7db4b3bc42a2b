// CLAUDE:SUMMARY Defines turnwatch config structs and parses YAML configuration with defaults and validation.
// Package config handles turnwatch configuration from a YAML file and an
// optional SQLite page table.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/adapter"
)

// Config is the top-level turnwatch configuration.
type Config struct {
	Browser  BrowserConfig        `yaml:"browser"`
	Pages    []PageConfig         `yaml:"pages"`
	Engine   EngineConfig         `yaml:"engine"`
	Sinks    []SinkConfig         `yaml:"sinks"`
	Adapters []adapter.Definition `yaml:"adapters"`
	// Database is an optional SQLite file whose chat_pages table adds
	// pages at runtime.
	Database string `yaml:"database"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	ProfileDir       string        `yaml:"profile_dir"`
	Bin              string        `yaml:"bin"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig is one chat page to observe.
type PageConfig struct {
	ID           string `yaml:"id"`
	URL          string `yaml:"url"`
	Platform     string `yaml:"platform"`
	StealthLevel string `yaml:"stealth_level"` // http | headless | headful, empty follows browser.stealth
}

// EngineConfig tunes the scan loop.
type EngineConfig struct {
	QuietWindow time.Duration `yaml:"quiet_window"`
	RootRetry   time.Duration `yaml:"root_retry"`
	QueueSize   int           `yaml:"queue_size"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // http | stdout
	URL  string `yaml:"url"`  // for http
}

// LoadFile reads and validates a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no pages.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"images", "fonts", "media"}
	}
	if c.Engine.QuietWindow <= 0 {
		c.Engine.QuietWindow = 500 * time.Millisecond
	}
	if c.Engine.RootRetry <= 0 {
		c.Engine.RootRetry = time.Second
	}
	if c.Engine.QueueSize <= 0 {
		c.Engine.QueueSize = 1024
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "http"}}
	}
	for i := range c.Sinks {
		c.Sinks[i].Type = strings.ToLower(c.Sinks[i].Type)
		if c.Sinks[i].Type == "http" && c.Sinks[i].URL == "" {
			c.Sinks[i].URL = "http://127.0.0.1:8788/log"
		}
	}
	for i := range c.Pages {
		c.Pages[i].Platform = strings.ToLower(c.Pages[i].Platform)
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = c.Pages[i].Platform + "-" + fmt.Sprint(i)
		}
	}
}

// Validate reports configuration errors, all of them joined.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, p := range c.Pages {
		if p.URL == "" {
			errs = append(errs, fmt.Errorf("config: pages[%d]: url is required", i))
		}
		if p.Platform == "" {
			errs = append(errs, fmt.Errorf("config: pages[%d]: platform is required", i))
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("config: pages[%d]: duplicate id %q", i, p.ID))
		}
		seen[p.ID] = true
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "http", "stdout":
		default:
			errs = append(errs, fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	return errors.Join(errs...)
}
