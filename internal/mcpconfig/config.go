// Package mcpconfig decodes the aggregator configuration file of
// spec.md §6: mcpServers, clientConfig, toolAccessControl and
// profiles. JSON parsing/config-file plumbing is explicitly out of
// scope as a hard-engineering concern (spec.md §1), but a runnable
// aggregator still needs a concrete format to read, so this expansion
// implements it following the teacher's own layering philosophy.
//
// Grounded on options.go's environment-variable-then-file-then-default
// layering (simplified here to file-then-default, since this
// package's only job is to hand the aggregator a populated struct, not
// to manage a general server's options).
package mcpconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ServerConfig is one entry of the mcpServers map: either a
// subprocess backend (Command/Args/Env) or a network backend (URL).
type ServerConfig struct {
	URL     string            `json:"url,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	APIKey  string            `json:"apiKey,omitempty"`
}

// ClientConfig carries the aggregator's own client identity and
// defaults.
type ClientConfig struct {
	ClientName       string `json:"clientName,omitempty"`
	ClientVersion    string `json:"clientVersion,omitempty"`
	UseServerManager bool   `json:"useServerManager,omitempty"`
	RequestTimeoutMs int    `json:"requestTimeoutMs,omitempty"`
}

// RequestTimeout returns the configured request timeout, or 0 if
// unset (mcpclient.New then applies its own default).
func (c ClientConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// ToolAccessControl gates which tools select_for_tool may resolve to.
// DefaultAllow is a pointer so the zero value (JSON key absent) can be
// distinguished from an explicit `"defaultAllow": false`; absent means
// allow, matching a permissive default for a single-user aggregator.
type ToolAccessControl struct {
	DefaultAllow    *bool    `json:"defaultAllow,omitempty"`
	AllowedTools    []string `json:"allowedTools,omitempty"`
	DisallowedTools []string `json:"disallowedTools,omitempty"`
}

// Allowed reports whether name may be routed to, applying
// disallowedTools first, then an allowedTools allowlist if one is
// configured, then defaultAllow (absent == true).
func (ac ToolAccessControl) Allowed(name string) bool {
	for _, d := range ac.DisallowedTools {
		if d == name {
			return false
		}
	}
	if len(ac.AllowedTools) > 0 {
		for _, a := range ac.AllowedTools {
			if a == name {
				return true
			}
		}
		return false
	}
	if ac.DefaultAllow == nil {
		return true
	}
	return *ac.DefaultAllow
}

// Profile names a subset of configured servers to connect together.
type Profile struct {
	Servers     []string `json:"servers"`
	Active      bool     `json:"active,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Config is the full aggregator configuration file.
type Config struct {
	MCPServers        map[string]ServerConfig `json:"mcpServers,omitempty"`
	ClientConfig      ClientConfig            `json:"clientConfig,omitempty"`
	ToolAccessControl ToolAccessControl       `json:"toolAccessControl,omitempty"`
	Profiles          map[string]Profile      `json:"profiles,omitempty"`
}

// Load reads and decodes a Config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mcpconfig: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("mcpconfig: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ActiveProfile returns a profile marked active, and whether one was
// found. If several are active, which one is returned is not defined
// (profiles are held in a map). If none is active, callers should fall
// back to every configured server.
func (c *Config) ActiveProfile() (string, Profile, bool) {
	for name, p := range c.Profiles {
		if p.Active {
			return name, p, true
		}
	}
	return "", Profile{}, false
}
