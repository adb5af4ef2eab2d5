package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "ggufprep"

// windows: C:\Users\{user}\AppData\Roaming\ggufprep
// macOS: ~/Library/Application Support/ggufprep
// linux: ~/.config/ggufprep
func GetConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(mustHome(), "AppData", "Roaming")
		}
		return filepath.Join(appData, appName)

	case "darwin":
		return filepath.Join(mustHome(), "Library", "Application Support", appName)

	default:
		xdgConfig := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfig == "" {
			xdgConfig = filepath.Join(mustHome(), ".config")
		}
		return filepath.Join(xdgConfig, appName)
	}
}

// windows: C:\Users\{user}\AppData\Local\ggufprep
// macOS: ~/Library/Caches/ggufprep
// linux: ~/.cache/ggufprep
func GetCacheDir() string {
	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			localAppData = filepath.Join(mustHome(), "AppData", "Local")
		}
		return filepath.Join(localAppData, appName)

	case "darwin":
		return filepath.Join(mustHome(), "Library", "Caches", appName)

	default:
		xdgCache := os.Getenv("XDG_CACHE_HOME")
		if xdgCache == "" {
			xdgCache = filepath.Join(mustHome(), ".cache")
		}
		return filepath.Join(xdgCache, appName)
	}
}

func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), appName+".yaml")
}

// GetDefaultLedgerPath is where run reports are appended when the config
// does not name a ledger file.
func GetDefaultLedgerPath() string {
	return filepath.Join(GetCacheDir(), "runs.jsonl")
}

func mustHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get user home directory: %v", err))
	}
	return home
}
