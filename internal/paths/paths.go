// Package paths provides a single source of truth for parley file paths.
// All path helpers honor environment variable overrides for isolated testing.
//
// Path resolution precedence:
//  1. Specific env vars (PARLEY_PID_PATH, PARLEY_DB_PATH) take highest priority
//  2. PARLEY_DIR env var sets the base directory (derives pid/db/log/config)
//  3. Default behavior (~/.parley, ~/.config/parley) when no env vars are set
package paths

import (
	"os"
	"path/filepath"
)

// Environment variable names for path overrides.
const (
	// EnvParleyDir is the base directory override (e.g., /tmp/parley-e2e).
	// When set, pid, database, and log paths derive from this directory.
	EnvParleyDir = "PARLEY_DIR"

	// EnvPIDPath overrides the PID file path directly.
	EnvPIDPath = "PARLEY_PID_PATH"

	// EnvDBPath overrides the database path directly.
	EnvDBPath = "PARLEY_DB_PATH"
)

// BaseDir returns the parley base directory (~/.parley by default).
// Honors PARLEY_DIR environment variable.
func BaseDir() (string, error) {
	if dir := os.Getenv(EnvParleyDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".parley"), nil
}

// ConfigDir returns the parley config directory (~/.config/parley by default).
// When PARLEY_DIR is set, returns PARLEY_DIR/config instead.
func ConfigDir() (string, error) {
	if dir := os.Getenv(EnvParleyDir); dir != "" {
		return filepath.Join(dir, "config"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "parley"), nil
}

// ConfigPath returns the path to the daemon config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PIDPath returns the PID file path.
// Honors PARLEY_PID_PATH, then PARLEY_DIR, then ~/.parley/parleyd.pid.
func PIDPath() string {
	if p := os.Getenv(EnvPIDPath); p != "" {
		return p
	}
	base, err := BaseDir()
	if err != nil {
		return "/tmp/parleyd.pid"
	}
	return filepath.Join(base, "parleyd.pid")
}

// DBPath returns the sqlite database path.
// Honors PARLEY_DB_PATH, then PARLEY_DIR, then ~/.parley/parley.db.
func DBPath() string {
	if p := os.Getenv(EnvDBPath); p != "" {
		return p
	}
	base, err := BaseDir()
	if err != nil {
		return "/tmp/parley.db"
	}
	return filepath.Join(base, "parley.db")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	base, err := BaseDir()
	if err != nil {
		return "/tmp/parley.log"
	}
	return filepath.Join(base, "parley.log")
}

// WorktreesDir returns the directory under which per-chat worktrees are created.
func WorktreesDir() (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "worktrees"), nil
}
