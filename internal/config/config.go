// Package config loads repository configuration from a layered set of
// files: ".flowdag/config" (checked in, shared) and
// ".flowdag/config.local" (gitignored, machine-specific overrides),
// matching the teacher's own layered-config pattern. It uses viper so
// the same mapping keys work whether set via file, environment variable,
// or (in the thin CLI) a flag.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// Config is the repository's merged configuration: defaults, then
// .flowdag/config, then .flowdag/config.local overrides.
type Config struct {
	v *viper.Viper
}

// Defaults mirror the teacher's convention of setting sane defaults on
// the viper instance before any file is merged in, so a repository
// without a config file still behaves predictably.
func defaults() map[string]any {
	return map[string]any{
		"core.remote":               "",
		"cache.dir":                 "",
		"cache.type":                "reflink,hardlink,symlink,copy",
		"cache.slow_link_warning":   true,
		"core.autostage":            false,
		"remote.jobs":               4,
		"remote.verify":             true,
		"log.level":                 "info",
	}
}

// Load reads configuration for the repository rooted at repoRoot. A
// missing config file is not an error — defaults apply.
func Load(repoRoot string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("FLOWDAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("ini")
	v.AddConfigPath(filepath.Join(repoRoot, ".flowdag"))
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read %s: %w", repoRoot, err)
		}
	}

	local := viper.New()
	local.SetConfigName("config.local")
	local.SetConfigType("ini")
	local.AddConfigPath(filepath.Join(repoRoot, ".flowdag"))
	if err := local.ReadInConfig(); err == nil {
		if err := v.MergeConfigMap(local.AllSettings()); err != nil {
			return nil, fmt.Errorf("config: merge local overrides: %w", err)
		}
	}

	return &Config{v: v}, nil
}

// CacheDir returns the configured cache directory, defaulting to
// <repoRoot>/.flowdag/cache when unset; only when repoRoot is empty does
// it fall back to an XDG cache location.
func (c *Config) CacheDir(repoRoot string) string {
	if d := c.v.GetString("cache.dir"); d != "" {
		return d
	}
	if repoRoot != "" {
		return filepath.Join(repoRoot, ".flowdag", "cache")
	}
	dir, err := xdg.CacheFile(filepath.Join("flowdag", "cache"))
	if err != nil {
		return filepath.Join(".flowdag", "cache")
	}
	return dir
}

// LinkOrder returns the configured cache.type as an ordered, comma-split
// list of link-kind names (lowercase), for internal/linker to parse.
func (c *Config) LinkOrder() []string {
	raw := c.v.GetString("cache.type")
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(strings.ToLower(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) SlowLinkWarning() bool { return c.v.GetBool("cache.slow_link_warning") }
func (c *Config) DefaultRemote() string { return c.v.GetString("core.remote") }
func (c *Config) RemoteJobs() int       { return c.v.GetInt("remote.jobs") }
func (c *Config) LogLevel() string      { return c.v.GetString("log.level") }

// GetString exposes an arbitrary key for remote-specific sections
// (e.g. "remote.myremote.url"), which viper flattens naturally from INI
// sections.
func (c *Config) GetString(key string) string { return c.v.GetString(key) }
