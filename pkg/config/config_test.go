package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggufprep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "Qwen/Qwen2.5-1.5B-Instruct", cfg.Model.ID)
	assert.Equal(t, "main", cfg.Model.Revision)
	assert.Equal(t, "Q4_K_M", cfg.Output.Scheme)
	assert.Equal(t, "f16", cfg.Output.OutType)
	assert.True(t, cfg.Output.Overwrite)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Elastic.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
model:
  id: unsloth/Llama-3.2-1B-Instruct
toolchain:
  root: /opt/llama.cpp
output:
  scheme: Q5_K_M
  overwrite: false
hub:
  workers: 8
`)
	logger, _ := test.NewNullLogger()

	m := NewManager(path, Overrides{}, logger)
	require.NoError(t, m.LoadConfig())

	cfg := m.GetConfig()
	assert.Equal(t, path, m.ConfigPath())
	assert.Equal(t, "unsloth/Llama-3.2-1B-Instruct", cfg.Model.ID)
	assert.Equal(t, "main", cfg.Model.Revision, "unset keys keep their defaults")
	assert.Equal(t, "/opt/llama.cpp", cfg.Toolchain.Root)
	assert.Equal(t, DefaultQuantizer, cfg.Toolchain.Quantizer)
	assert.Equal(t, "Q5_K_M", cfg.Output.Scheme)
	assert.False(t, cfg.Output.Overwrite)
	assert.Equal(t, 8, cfg.Hub.Workers)
}

func TestOverridesWinOverFile(t *testing.T) {
	path := writeConfig(t, `
model:
  id: unsloth/Llama-3.2-1B-Instruct
output:
  scheme: Q5_K_M
`)
	logger, _ := test.NewNullLogger()

	m := NewManager(path, Overrides{
		ModelID:     "Qwen/Qwen2.5-0.5B-Instruct",
		Scheme:      "Q8_0",
		Token:       "hf_secret",
		NoOverwrite: true,
	}, logger)
	require.NoError(t, m.LoadConfig())

	cfg := m.GetConfig()
	assert.Equal(t, "Qwen/Qwen2.5-0.5B-Instruct", cfg.Model.ID)
	assert.Equal(t, "Q8_0", cfg.Output.Scheme)
	assert.Equal(t, "hf_secret", cfg.Hub.Token)
	assert.False(t, cfg.Output.Overwrite)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	logger, _ := test.NewNullLogger()

	m := NewManager(filepath.Join(t.TempDir(), "nope.yaml"), Overrides{}, logger)
	err := m.LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "model: [unterminated")
	logger, _ := test.NewNullLogger()

	err := NewManager(path, Overrides{}, logger).LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad model id", func(c *Config) { c.Model.ID = "no-owner" }, "must look like <owner>/<name>"},
		{"traversal in model id", func(c *Config) { c.Model.ID = "org/..model" }, "must look like <owner>/<name>"},
		{"unknown scheme", func(c *Config) { c.Output.Scheme = "Q9_K" }, "is not a llama-quantize type"},
		{"unknown outtype", func(c *Config) { c.Output.OutType = "int3" }, "must be one of"},
		{"empty root", func(c *Config) { c.Toolchain.Root = "" }, "Toolchain.Root is required"},
		{"zero workers", func(c *Config) { c.Hub.Workers = 0 }, "Hub.Workers"},
		{"database without host", func(c *Config) { c.Database.Enabled = true }, "Database.Host is required"},
		{"elastic without url", func(c *Config) { c.Elastic.Enabled = true }, "Elastic.URL is required"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestOverridesLeaveEmptyFieldsAlone(t *testing.T) {
	cfg := Default()
	Overrides{}.Apply(cfg)
	assert.Equal(t, Default(), cfg)
}

func TestDefaultPathsFollowXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG variables apply on linux")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, "cache"))

	assert.Equal(t, filepath.Join(dir, "config", "ggufprep", "ggufprep.yaml"), GetDefaultConfigPath())
	assert.Equal(t, filepath.Join(dir, "cache", "ggufprep", "runs.jsonl"), GetDefaultLedgerPath())
}
