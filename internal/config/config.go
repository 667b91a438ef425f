// Package config resolves process-wide settings from the environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config holds the settings the command line falls back to when a flag is
// not given.
type Config struct {
	DataDir string
	DBPath  string

	// ScriptDir is where scripted evaluation metrics are looked up when an
	// evaluate stage does not name its own script_dir.
	ScriptDir string

	LogLevel  string
	LogFormat string
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("XNMT_DATA_DIR", filepath.Join(homeDir, ".xnmt"))

	c := &Config{
		DataDir:   dataDir,
		DBPath:    getEnv("XNMT_DB", filepath.Join(dataDir, "xnmt.db")),
		ScriptDir: getEnv("XNMT_SCRIPT_DIR", filepath.Join(dataDir, "metrics")),
		LogLevel:  strings.ToLower(getEnv("XNMT_LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("XNMT_LOG_FORMAT", "text")),
	}

	return c, nil
}

// EnsureDataDir creates the data directory and the directory holding the
// history database.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Dir(c.DBPath), 0755)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}
