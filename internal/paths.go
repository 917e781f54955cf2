package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds the default locations of review-sweep's files
type Paths struct {
	ConfigDir  string // directory holding config.yaml and .env
	StateDir   string // directory holding the state database
	RecordsDir string // default export directory
}

// DetectPaths returns the per-user default locations for the current OS.
// XDG_CONFIG_HOME and XDG_STATE_HOME are honoured on Linux.
func DetectPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("failed to get home directory: %w", err)
	}

	var configDir, stateDir string
	switch runtime.GOOS {
	case "darwin":
		base := filepath.Join(home, "Library/Application Support/review-sweep")
		configDir = base
		stateDir = base
	case "linux":
		configDir = filepath.Join(home, ".config/review-sweep")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "review-sweep")
		}
		stateDir = filepath.Join(home, ".local/state/review-sweep")
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			stateDir = filepath.Join(xdg, "review-sweep")
		}
	default:
		return Paths{}, fmt.Errorf("unsupported OS: %s (only macOS and Linux are supported)", runtime.GOOS)
	}

	return Paths{
		ConfigDir:  configDir,
		StateDir:   stateDir,
		RecordsDir: filepath.Join(stateDir, "records"),
	}, nil
}

// ConfigPath returns the default config file path
func (p Paths) ConfigPath() string {
	return filepath.Join(p.ConfigDir, "config.yaml")
}

// EnvFilePath returns the default .env credentials file path
func (p Paths) EnvFilePath() string {
	return filepath.Join(p.ConfigDir, ".env")
}

// StateDBPath returns the default state database path
func (p Paths) StateDBPath() string {
	return filepath.Join(p.StateDir, "state.db")
}
