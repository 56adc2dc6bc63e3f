package config

import (
	"os"
	"path/filepath"
)

const (
	// HomeEnv overrides the ralph home directory.
	HomeEnv = "RALPH_HOME"
	// LogsSubdir holds the rotating log file.
	LogsSubdir = "logs"
)

// Home returns the ralph home directory: $RALPH_HOME, else ~/.local/ralph.
func Home() (string, error) {
	if home := os.Getenv(HomeEnv); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "ralph"), nil
}

// LogsDir returns the log directory under Home.
func LogsDir() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, LogsSubdir), nil
}
