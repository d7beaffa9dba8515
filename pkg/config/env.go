package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are not an error; existing variables win.
func LoadDotEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("Failed to load env file", "file", f, "error", err)
			continue
		}
		slog.Debug("Loaded env file", "file", f)
	}
}

// ApplyEnv fills configuration blanks from well-known environment variables.
func ApplyEnv(cfg *Config) {
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	cfg.DatabaseURL = ExpandSecret(cfg.DatabaseURL)
}

// ExpandSecret resolves "${NAME}" and "$NAME" references against the environment.
// Plain values are returned untouched.
func ExpandSecret(value string) string {
	if !strings.Contains(value, "$") {
		return value
	}
	return os.ExpandEnv(value)
}

// EnvOr returns the value of key, or fallback when it is unset or empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
