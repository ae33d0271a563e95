package mcpconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "mcpServers": {
    "local": {"command": "mcp-local", "args": ["--flag"], "env": {"FOO": "bar"}},
    "remote": {"url": "tcp://localhost:9000", "apiKey": "secret"}
  },
  "clientConfig": {
    "clientName": "mcpfabric",
    "clientVersion": "1.0.0",
    "requestTimeoutMs": 5000
  },
  "toolAccessControl": {
    "disallowedTools": ["danger"]
  },
  "profiles": {
    "default": {"servers": ["local"], "active": true},
    "full": {"servers": ["local", "remote"]}
  }
}`

func writeTempConfig(t *testing.T, content string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ParsesFullConfig(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.MCPServers, 2)
	require.Equal(t, "mcp-local", cfg.MCPServers["local"].Command)
	require.Equal(t, []string{"--flag"}, cfg.MCPServers["local"].Args)
	require.Equal(t, "bar", cfg.MCPServers["local"].Env["FOO"])
	require.Equal(t, "tcp://localhost:9000", cfg.MCPServers["remote"].URL)
	require.Equal(t, "secret", cfg.MCPServers["remote"].APIKey)

	require.Equal(t, "mcpfabric", cfg.ClientConfig.ClientName)
	require.Equal(t, 5000, cfg.ClientConfig.RequestTimeoutMs)

	require.False(t, cfg.ToolAccessControl.Allowed("danger"))
	require.True(t, cfg.ToolAccessControl.Allowed("safe"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := writeTempConfig(t, `{not json`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestClientConfig_RequestTimeout(t *testing.T) {
	c := ClientConfig{RequestTimeoutMs: 2000}
	require.Equal(t, 2000*1e6, float64(c.RequestTimeout()))

	zero := ClientConfig{}
	require.Equal(t, int64(0), int64(zero.RequestTimeout()))
}

func TestToolAccessControl_DefaultAllowAbsentMeansTrue(t *testing.T) {
	ac := ToolAccessControl{}
	require.True(t, ac.Allowed("anything"))
}

func TestToolAccessControl_ExplicitDefaultDeny(t *testing.T) {
	deny := false
	ac := ToolAccessControl{DefaultAllow: &deny}
	require.False(t, ac.Allowed("anything"))
}

func TestActiveProfile_FindsActive(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	name, profile, ok := cfg.ActiveProfile()
	require.True(t, ok)
	require.Equal(t, "default", name)
	require.Equal(t, []string{"local"}, profile.Servers)
}

func TestActiveProfile_NoneActive(t *testing.T) {
	cfg := &Config{Profiles: map[string]Profile{"a": {Servers: []string{"x"}}}}
	_, _, ok := cfg.ActiveProfile()
	require.False(t, ok)
}
