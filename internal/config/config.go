package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	ServerURL    string
	ListenPort   string
	DownloadDir  string
	HistoryPath  string
	PollInterval time.Duration
	PresenceTTL  time.Duration
}

func Load() *Config {
	return &Config{
		ServerURL:    getEnv("WEBDROP_SERVER_URL", "http://localhost:8080"),
		ListenPort:   getEnv("WEBDROP_PORT", "8080"),
		DownloadDir:  getEnv("WEBDROP_DOWNLOAD_DIR", defaultDownloadDir()),
		HistoryPath:  getEnv("WEBDROP_HISTORY_PATH", defaultHistoryPath()),
		PollInterval: getDuration("WEBDROP_POLL_INTERVAL_MS", 3000),
		PresenceTTL:  getDuration("WEBDROP_PRESENCE_TTL_MS", 30000),
	}
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "webdrop.sqlite3"
	}
	return filepath.Join(home, ".webdrop", "history.sqlite3")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultMillis int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Duration(defaultMillis) * time.Millisecond
}
