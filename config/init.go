// File: config/init.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const fileHeader = `# hioload-pipeline configuration file
#
# Every key can be overridden from the environment with the HIOLOAD_ prefix,
# e.g. HIOLOAD_PIPELINE_MAX_DEPTH=64 or HIOLOAD_LISTENER_PORT=8080.

`

// ErrConfigExists is returned by InitConfig when the target file exists and
// force is not set.
var ErrConfigExists = errors.New("config file already exists")

// Marshal renders cfg as YAML with the standard file header.
func Marshal(cfg *Config) ([]byte, error) {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return append([]byte(fileHeader), body...), nil
}

// InitConfig writes the default configuration to the default location and
// returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w (use --force to overwrite)", path, ErrConfigExists)
		}
	}
	data, err := Marshal(GetDefaultConfig())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
