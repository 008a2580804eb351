// Package maxconfig loads project configuration per §6: a project root
// holds max.json (empty JSON allowed) and .max/ for state. Grounded on
// the teacher's ad hoc viper.New()/SetConfigFile/ReadInConfig pattern in
// cmd/bd/config.go, generalized into one reusable loader with the
// BD_/BEADS_-style env-prefix convention renamed to MAX_, plus
// fsnotify-backed hot reload (viper.WatchConfig wraps fsnotify directly,
// so no separate watcher is hand-rolled).
package maxconfig

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Defaults holds the values Load seeds before reading max.json, mirroring
// the teacher's SetDefault calls in its config initializer.
var Defaults = map[string]any{
	"cache.ttlSeconds":       10,
	"cache.disabled":         false,
	"sync.concurrency":       4,
	"daemon.idleTimeout":     "30m",
	"credential.refreshSlop": 0.9,
}

// Config wraps a *viper.Viper scoped to one project root.
type Config struct {
	v    *viper.Viper
	Root string
}

// Load reads <root>/max.json (missing file is not an error; §6 says
// empty JSON is allowed, and a wholly absent file behaves the same as
// empty), applying Defaults and MAX_-prefixed environment overrides.
func Load(root string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("max")
	v.SetConfigType("json")
	v.AddConfigPath(root)
	v.SetEnvPrefix("MAX")
	v.AutomaticEnv()

	for key, val := range Defaults {
		v.SetDefault(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("maxconfig: read %s: %w", filepath.Join(root, "max.json"), err)
		}
	}

	return &Config{v: v, Root: root}, nil
}

// MaxDir returns <root>/.max, the directory holding all persisted state
// (§6).
func (c *Config) MaxDir() string {
	return filepath.Join(c.Root, ".max")
}

// OnChange hooks viper's fsnotify-backed watch so callers can react to
// max.json edits without restarting (e.g. reloading daemon idle timeout).
func (c *Config) OnChange(fn func()) {
	c.v.OnConfigChange(func(fsnotify.Event) { fn() })
	c.v.WatchConfig()
}

func (c *Config) GetString(key string) string   { return c.v.GetString(key) }
func (c *Config) GetInt(key string) int         { return c.v.GetInt(key) }
func (c *Config) GetBool(key string) bool       { return c.v.GetBool(key) }
func (c *Config) GetFloat64(key string) float64 { return c.v.GetFloat64(key) }
