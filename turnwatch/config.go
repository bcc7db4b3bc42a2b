package turnwatch

import (
	"github.com/hazyhaar/chatscribe/turnwatch/internal/adapter"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/config"
	"github.com/hazyhaar/chatscribe/turnwatch/internal/dom"
)

// Config is the top-level turnwatch configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to observe.
type PageConfig = config.PageConfig

// EngineConfig tunes the scan loop.
type EngineConfig = config.EngineConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// AdapterDefinition describes a custom platform in configuration.
type AdapterDefinition = adapter.Definition

// ProbeReport describes how an adapter sees a document.
type ProbeReport = adapter.Report

// Document is a live in-process HTML tree for ObserveDocument.
type Document = dom.Document

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// DefaultConfig returns the defaults with no pages.
func DefaultConfig() *Config {
	return config.Default()
}
