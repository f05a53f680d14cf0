package console

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/calvinalkan/txfs/pkg/txfs"
)

// Config holds console configuration. The config file format is
// HuJSON (JSON with comments and trailing commas).
type Config struct {
	HistoryFile      string `json:"history_file,omitempty"`
	DefaultIsolation string `json:"default_isolation,omitempty"`
	Prompt           string `json:"prompt,omitempty"`
}

// ConfigSources tracks which config files were loaded.
type ConfigSources struct {
	Global  string // path to global config if loaded, empty otherwise
	Project string // path to project config if loaded, empty otherwise
}

// ConfigFileName is the default project config file name.
const ConfigFileName = ".txfs.json"

var errConfigInvalid = errors.New("invalid config file")

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DefaultIsolation: txfs.ReadCommitted.String(),
	}
}

// globalConfigPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/txfs/config.json if set, otherwise
// ~/.config/txfs/config.json. Empty when no home directory can be
// determined.
func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok && after != "" {
			return filepath.Join(after, "txfs", "config.json")
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "txfs", "config.json")
	}

	return ""
}

// LoadConfig loads configuration with the following precedence
// (highest wins):
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/txfs/config.json or
//     ~/.config/txfs/config.json)
//  3. Project config at workDir/.txfs.json, or, when configPath is
//     set, the explicit file at configPath instead (the project file
//     is then not read; a missing explicit file is an error)
func LoadConfig(workDir, configPath string, env []string) (Config, ConfigSources, error) {
	cfg := DefaultConfig()

	var sources ConfigSources

	if global := globalConfigPath(env); global != "" {
		loaded, ok, err := readConfigFile(global)
		if err != nil {
			return Config{}, ConfigSources{}, err
		}

		if ok {
			sources.Global = global
			cfg = mergeConfig(cfg, loaded)
		}
	}

	project := filepath.Join(workDir, ConfigFileName)
	if configPath != "" {
		project = configPath
	}

	loaded, ok, err := readConfigFile(project)
	if err != nil {
		return Config{}, ConfigSources{}, err
	}

	if ok {
		sources.Project = project
		cfg = mergeConfig(cfg, loaded)
	} else if configPath != "" {
		return Config{}, ConfigSources{}, fmt.Errorf("%w: %s: not found", errConfigInvalid, configPath)
	}

	if _, err := txfs.ParseIsolation(cfg.DefaultIsolation); err != nil {
		return Config{}, ConfigSources{}, fmt.Errorf("%w: default_isolation: %w", errConfigInvalid, err)
	}

	return cfg, sources, nil
}

// readConfigFile parses a HuJSON config file. The second return is
// false when the file does not exist.
func readConfigFile(path string) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from config resolution
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("%w: %s: %w", errConfigInvalid, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w: %s: %w", errConfigInvalid, path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("%w: %s: %w", errConfigInvalid, path, err)
	}

	return cfg, true, nil
}

// mergeConfig overlays non-empty fields of over onto base.
func mergeConfig(base, over Config) Config {
	if over.HistoryFile != "" {
		base.HistoryFile = over.HistoryFile
	}

	if over.DefaultIsolation != "" {
		base.DefaultIsolation = over.DefaultIsolation
	}

	if over.Prompt != "" {
		base.Prompt = over.Prompt
	}

	return base
}
