package util

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the directory name used under the platform config and data roots
const AppName = "recipe-mirror"

// GetConfigDir returns the user's configuration directory following platform conventions
// Linux/BSD: $XDG_CONFIG_HOME/recipe-mirror or ~/.config/recipe-mirror
// macOS: ~/Library/Application Support/recipe-mirror
// Windows: %APPDATA%/recipe-mirror
func GetConfigDir() string {
	return platformDir("APPDATA", "Roaming", "XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the user's data directory following platform conventions
// Linux/BSD: $XDG_DATA_HOME/recipe-mirror or ~/.local/share/recipe-mirror
// macOS: ~/Library/Application Support/recipe-mirror
// Windows: %LOCALAPPDATA%/recipe-mirror
func GetDataDir() string {
	return platformDir("LOCALAPPDATA", "Local", "XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func platformDir(windowsEnv, windowsFallback, xdgEnv, homeFallback string) string {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv(windowsEnv)
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", windowsFallback)
		}
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		baseDir = filepath.Join(homeDir, "Library", "Application Support")
	default:
		baseDir = os.Getenv(xdgEnv)
		if baseDir == "" {
			homeDir, _ := os.UserHomeDir()
			baseDir = filepath.Join(homeDir, homeFallback)
		}
	}

	return filepath.Join(baseDir, AppName)
}

// GetDefaultConfigPath returns the default config file path
func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.json")
}

// GetDefaultCachePath returns the default SQLite cache path
func GetDefaultCachePath() string {
	return filepath.Join(GetDataDir(), "cache.db")
}

// GetDefaultStatePath returns the default bbolt state path (checkpoints, outbox)
func GetDefaultStatePath() string {
	return filepath.Join(GetDataDir(), "state.db")
}
