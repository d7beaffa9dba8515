package config

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config defines the global application configuration structure.
// This structure maps directly to the config.json file and holds
// business-level settings like channel settings and LLM provider choices.
type Config struct {
	// Channels contains a map of channel identifiers (e.g., "http", "web", "telegram")
	// to their specific configuration payloads in raw JSON format.
	Channels map[string]jsoniter.RawMessage `json:"channels"`
	// LLM holds the provider group list in raw JSON. It is decoded by the
	// llm package so that every provider can own its option set.
	LLM jsoniter.RawMessage `json:"llm"`
	// SystemPrompt overrides the built-in generative UI instruction when set.
	SystemPrompt string `json:"system_prompt"`
	// DatabaseURL enables the Postgres history store when non-empty.
	DatabaseURL string `json:"database_url"`
}

// Validate ensures the configuration structure contains all mandatory fields.
func (c *Config) Validate() error {
	if len(c.LLM) == 0 {
		return fmt.Errorf("mandatory 'llm' configuration is missing or empty")
	}
	return nil
}

// SystemConfig defines engine-level technical parameters.
// These settings are stored in system.json and control the
// performance, reliability, and technical behavior of the backend.
type SystemConfig struct {
	// MaxRetries is the number of attempts made against a provider
	// before falling through to the next one.
	MaxRetries int `json:"max_retries"`
	// RetryDelayMs is the base delay between retry attempts.
	RetryDelayMs int `json:"retry_delay_ms"`
	// LLMTimeoutMs is the hard cutoff for one graph run.
	LLMTimeoutMs int `json:"llm_timeout_ms"`
	// OllamaDefaultURL is used when an ollama group has no base_url.
	OllamaDefaultURL string `json:"ollama_default_url"`
	// InternalChannelBuffer sizes the chunk and block channels.
	InternalChannelBuffer int `json:"internal_channel_buffer"`
	// ThinkingInitDelayMs is the delay before a "thinking" signal is sent to the channel.
	ThinkingInitDelayMs int `json:"thinking_init_delay_ms"`
	// TelegramMessageLimit is the maximum rune count of one Telegram message.
	TelegramMessageLimit int `json:"telegram_message_limit"`
	// DownloadTimeoutMs bounds media downloads from chat platforms.
	DownloadTimeoutMs int `json:"download_timeout_ms"`
	// RecursionLimit caps the number of graph steps per run.
	RecursionLimit int `json:"recursion_limit"`
	// HistoryMaxTokens is the token budget for chat history rendered into the prompt.
	// Zero disables trimming.
	HistoryMaxTokens int `json:"history_max_tokens"`
	// SessionCacheSize caps the number of conversations kept in memory.
	// Evicted conversations are reloaded from the history store.
	SessionCacheSize int `json:"session_cache_size"`
	// HistoryDir is where the file store keeps session histories.
	HistoryDir string `json:"history_dir"`
	// AttachmentsDir is where uploaded files are written.
	AttachmentsDir string `json:"attachments_dir"`
	// DebugChunks dumps every raw provider chunk under debug/chunks.
	DebugChunks bool `json:"debug_chunks"`
	// LogLevel sets the minimum severity for log output.
	// Accepted values: "debug", "info", "warn", "error". Default: "info".
	LogLevel string `json:"log_level"`
}

// DefaultSystemConfig returns a SystemConfig initialized with safe default values.
// It is used as a fallback when system.json is missing or corrupt.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		MaxRetries:            3,
		RetryDelayMs:          500,
		LLMTimeoutMs:          120000,
		OllamaDefaultURL:      "http://localhost:11434",
		InternalChannelBuffer: 100,
		ThinkingInitDelayMs:   500,
		TelegramMessageLimit:  4000,
		DownloadTimeoutMs:     10000,
		RecursionLimit:        25,
		HistoryMaxTokens:      4000,
		SessionCacheSize:      1024,
		HistoryDir:            "data/history",
		AttachmentsDir:        "data/attachments",
		LogLevel:              "info",
	}
}

// Load reads config.json (mandatory) and system.json (optional) from dir.
// Environment variables from .env are applied before validation.
func Load(dir string) (*Config, *SystemConfig, error) {
	appPath := filepath.Join(dir, "config.json")
	if _, err := os.Stat(appPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file '%s' not found. please create one", appPath)
	}

	appFile, err := os.ReadFile(appPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(appFile)
	if err != nil {
		return nil, nil, err
	}

	sysCfg := LoadSystemConfig(filepath.Join(dir, "system.json"))
	return cfg, sysCfg, nil
}

// Parse decodes and validates a config.json payload, filling blanks from the environment.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSystemConfig attempts to load system settings, returns defaults if it fails.
func LoadSystemConfig(path string) *SystemConfig {
	cfg := DefaultSystemConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return DefaultSystemConfig()
	}

	return cfg
}
