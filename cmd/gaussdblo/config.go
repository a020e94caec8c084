package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	gaussdblo "github.com/HuaweiCloudDeveloper/gaussdb-lo"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/tracelog"
)

const envLogLevel = "GAUSSDBLO_LOG_LEVEL"

type fileConfig struct {
	ConnString           string `toml:"conn_string"`
	MaxTransferBlockSize int    `toml:"max_transfer_block_size"`
	LogLevel             string `toml:"log_level"`
	Parallel             int    `toml:"parallel"`
}

type cliConfig struct {
	ConnString           string
	MaxTransferBlockSize int
	LogLevel             tracelog.LogLevel
	Parallel             int
}

func defaultConfig() cliConfig {
	return cliConfig{
		MaxTransferBlockSize: gaussdblo.DefaultMaxTransferBlockSize,
		LogLevel:             tracelog.LogLevelWarn,
		Parallel:             4,
	}
}

// loadConfig reads path when it is not empty and then applies the environment.
func loadConfig(path string) (cliConfig, error) {
	cfg := defaultConfig()

	if path != "" {
		var raw fileConfig
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return cliConfig{}, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return cliConfig{}, fmt.Errorf("load config: unknown key %q", undecoded[0].String())
		}

		if meta.IsDefined("conn_string") {
			cfg.ConnString = strings.TrimSpace(raw.ConnString)
		}

		if meta.IsDefined("max_transfer_block_size") {
			cfg.MaxTransferBlockSize = raw.MaxTransferBlockSize
		}

		if meta.IsDefined("log_level") {
			lvl, err := tracelog.LogLevelFromString(strings.TrimSpace(raw.LogLevel))
			if err != nil {
				return cliConfig{}, fmt.Errorf("parse log_level: %w", err)
			}
			cfg.LogLevel = lvl
		}

		if meta.IsDefined("parallel") {
			cfg.Parallel = raw.Parallel
		}
	}

	if s := os.Getenv(envLogLevel); s != "" {
		lvl, err := tracelog.LogLevelFromString(s)
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse %s: %w", envLogLevel, err)
		}
		cfg.LogLevel = lvl
	}

	return cfg, nil
}

func validateConfig(cfg cliConfig) error {
	if cfg.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", cfg.Parallel)
	}
	if cfg.MaxTransferBlockSize < 1 {
		return fmt.Errorf("max_transfer_block_size must be positive, got %d", cfg.MaxTransferBlockSize)
	}
	return nil
}
