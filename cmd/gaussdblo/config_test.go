package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gaussdblo "github.com/HuaweiCloudDeveloper/gaussdb-lo"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/tracelog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gaussdblo.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(envLogLevel, "")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)
	assert.Equal(t, gaussdblo.DefaultMaxTransferBlockSize, cfg.MaxTransferBlockSize)
	assert.NoError(t, validateConfig(cfg))
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv(envLogLevel, "")

	path := writeConfig(t, `
conn_string = " host=db.example.com dbname=blobs "
max_transfer_block_size = 65536
log_level = "debug"
parallel = 8
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "host=db.example.com dbname=blobs", cfg.ConnString)
	assert.Equal(t, 65536, cfg.MaxTransferBlockSize)
	assert.Equal(t, tracelog.LogLevelDebug, cfg.LogLevel)
	assert.Equal(t, 8, cfg.Parallel)
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	t.Setenv(envLogLevel, "")

	cfg, err := loadConfig(writeConfig(t, `parallel = 2`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Parallel)
	assert.Equal(t, gaussdblo.DefaultMaxTransferBlockSize, cfg.MaxTransferBlockSize)
	assert.Equal(t, tracelog.LogLevelWarn, cfg.LogLevel)
}

func TestLoadConfigEnvironmentOverridesLogLevel(t *testing.T) {
	t.Setenv(envLogLevel, "trace")

	cfg, err := loadConfig(writeConfig(t, `log_level = "error"`))
	require.NoError(t, err)
	assert.Equal(t, tracelog.LogLevelTrace, cfg.LogLevel)

	t.Setenv(envLogLevel, "chatty")
	_, err = loadConfig("")
	assert.ErrorContains(t, err, envLogLevel)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Setenv(envLogLevel, "")

	tests := []struct {
		name    string
		content string
		msg     string
	}{
		{name: "syntax", content: `parallel = `, msg: "load config"},
		{name: "unknown key", content: `paralel = 2`, msg: `unknown key "paralel"`},
		{name: "bad log level", content: `log_level = "chatty"`, msg: "parse log_level"},
		{name: "wrong type", content: `parallel = "two"`, msg: "load config"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.msg)
		})
	}

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "load config")
}

func TestValidateConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Parallel = 0
	assert.ErrorContains(t, validateConfig(cfg), "parallel")

	cfg = defaultConfig()
	cfg.MaxTransferBlockSize = 0
	assert.ErrorContains(t, validateConfig(cfg), "max_transfer_block_size")
}
