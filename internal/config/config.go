// Package config provides configuration management for the vellum
// assembly engine using Viper for flexible loading from files,
// environment variables, and command-line flags.
//
// Configuration sources are layered with clear precedence: flags over
// VELLUM_ prefixed environment variables over the .vellum.yml file over
// built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the engine.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Assembly   AssemblyConfig   `yaml:"assembly"`
	Cache      CacheConfig      `yaml:"cache"`
	Content    ContentConfig    `yaml:"content"`
	Repository RepositoryConfig `yaml:"repository"`
	Server     ServerConfig     `yaml:"server"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AssemblyConfig controls the orchestrator and the inline rewriter.
type AssemblyConfig struct {
	// MaxInlineDepth bounds recursive inline-template expansion. Zero
	// disables the bound; the default keeps runaway template cycles
	// from consuming the stack.
	MaxInlineDepth int `yaml:"max_inline_depth"`

	// BrokenLinkBehavior selects the override substituted for
	// unresolved hyperlinks: deadlink, removelink or leavelink.
	BrokenLinkBehavior string `yaml:"broken_link_behavior"`

	// ManagedPathPrefix marks auto-managed hrefs/srcs that the inline
	// rewriter resolves even without an explicit marker attribute.
	ManagedPathPrefix string `yaml:"managed_path_prefix"`
}

// CacheConfig controls the content-node cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxSizeBytes is the total cache budget.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`

	// MaxItemSizeBytes is the per-item retention hint: items larger
	// than this are evicted after assembly rather than rejected at
	// load time.
	MaxItemSizeBytes int64 `yaml:"max_item_size_bytes"`

	TTL time.Duration `yaml:"ttl"`
}

// ContentConfig controls content-loading behavior.
type ContentConfig struct {
	// AllowedNamespaces is the XML namespace prefix allow-list applied
	// by the namespace-cleanup interceptor.
	AllowedNamespaces []string `yaml:"allowed_namespaces"`

	// NavigationContentType names the content type that is substituted
	// with a navigation proxy node at load time.
	NavigationContentType string `yaml:"navigation_content_type"`
}

// RepositoryConfig locates the file-backed repository.
type RepositoryConfig struct {
	Root string `yaml:"root"`
}

// ServerConfig holds preview server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Load builds a Config from the current viper state, applying defaults
// for anything not set.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default returns the built-in configuration, used by tests and
// callers that bypass viper.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

func applyDefaults(config *Config) {
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	if config.Assembly.MaxInlineDepth == 0 && !viper.IsSet("assembly.max_inline_depth") {
		config.Assembly.MaxInlineDepth = 8
	}
	if config.Assembly.BrokenLinkBehavior == "" {
		config.Assembly.BrokenLinkBehavior = "deadlink"
	}
	if config.Assembly.ManagedPathPrefix == "" {
		config.Assembly.ManagedPathPrefix = "/content/"
	}

	if !viper.IsSet("cache.enabled") {
		config.Cache.Enabled = true
	}
	if config.Cache.MaxSizeBytes == 0 {
		config.Cache.MaxSizeBytes = 64 << 20
	}
	if config.Cache.MaxItemSizeBytes == 0 {
		config.Cache.MaxItemSizeBytes = 4 << 20
	}
	if config.Cache.TTL == 0 {
		config.Cache.TTL = time.Hour
	}

	if len(config.Content.AllowedNamespaces) == 0 {
		config.Content.AllowedNamespaces = []string{"xhtml"}
	}
	if config.Content.NavigationContentType == "" {
		config.Content.NavigationContentType = "navigation-category"
	}

	if config.Repository.Root == "" {
		config.Repository.Root = "./content"
	}

	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8085
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Assembly.BrokenLinkBehavior {
	case "deadlink", "removelink", "leavelink":
	default:
		return fmt.Errorf("invalid broken_link_behavior %q: must be deadlink, removelink or leavelink",
			c.Assembly.BrokenLinkBehavior)
	}

	if c.Assembly.MaxInlineDepth < 0 {
		return fmt.Errorf("max_inline_depth must be >= 0, got %d", c.Assembly.MaxInlineDepth)
	}
	if c.Cache.MaxSizeBytes < 0 {
		return fmt.Errorf("cache max_size_bytes must be >= 0, got %d", c.Cache.MaxSizeBytes)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1..65535, got %d", c.Server.Port)
	}
	return nil
}
