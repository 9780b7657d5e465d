// Package config handles Lumen configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/lumen/config.yaml, /etc/lumen/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "lumen", "config.yaml"))
	}

	paths = append(paths, "/etc/lumen/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Lumen configuration. Every component receives the
// slice of this struct it needs at construction time; nothing reads
// configuration through package-level state.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	Ollama        OllamaConfig        `yaml:"ollama"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Speech        SpeechConfig        `yaml:"speech"`
	Audio         AudioConfig         `yaml:"audio"`
	Context       ContextConfig       `yaml:"context"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	Chat          ChatConfig          `yaml:"chat"`
	Match         MatchConfig         `yaml:"match"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// OllamaConfig defines the LLM inference endpoint and turn timing policy.
type OllamaConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`

	// TimeoutSec bounds one completion call. A call exceeding it is
	// abandoned, the context budget is reduced, and the turn is retried.
	TimeoutSec int `yaml:"timeout_sec"`

	// FastSec is the threshold under which a completion counts as fast,
	// allowing the context budget to recover.
	FastSec int `yaml:"fast_sec"`

	// RetryAttempts is how many times a timed-out turn is retried with a
	// reduced budget before the turn fails (default 1).
	RetryAttempts int `yaml:"retry_attempts"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// SpeechConfig defines the transcription and synthesis endpoints.
type SpeechConfig struct {
	STTURL string `yaml:"stt_url"`
	TTSURL string `yaml:"tts_url"`
}

// AudioConfig parametrizes the recording stage of the voice pipeline.
type AudioConfig struct {
	// SilenceWindowSec is how long accumulated silence must last before
	// a recording is considered finished.
	SilenceWindowSec float64 `yaml:"silence_window_sec"`

	// NoiseFloorMultiplier scales the measured noise floor into the
	// silence threshold for the current recording.
	NoiseFloorMultiplier float64 `yaml:"noise_floor_multiplier"`

	// MinRecordSec is enforced before silence-based early exit is honored.
	MinRecordSec float64 `yaml:"min_record_sec"`

	// MaxRecordSec caps a single recording regardless of silence.
	MaxRecordSec float64 `yaml:"max_record_sec"`
}

// ContextConfig parametrizes the adaptive context window.
type ContextConfig struct {
	DefaultWords    int     `yaml:"default_words"`
	MinWords        int     `yaml:"min_words"`
	MaxWords        int     `yaml:"max_words"`
	ReductionFactor float64 `yaml:"reduction_factor"`
	RecoveryStep    int     `yaml:"recovery_step"`
}

// CalendarConfig defines the reminder store and its due-event scanner.
type CalendarConfig struct {
	DBPath           string `yaml:"db_path"`
	CheckIntervalSec int    `yaml:"check_interval_sec"`
}

// ChatConfig bounds the concurrent chat pipeline.
type ChatConfig struct {
	// MaxSessions bounds how many conversation turns may execute at once.
	MaxSessions int `yaml:"max_sessions"`
}

// MatchConfig parametrizes fuzzy entity resolution.
type MatchConfig struct {
	// MaxEditDistance is the normalized edit-distance ceiling (0..1)
	// above which a spoken device reference fails to resolve.
	MaxEditDistance float64 `yaml:"max_edit_distance"`
}

// MQTTConfig defines the queue contracts that decouple the orchestration
// core from the UI process.
type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DeviceName      string `yaml:"device_name"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	StatusIntervalSec int  `yaml:"status_interval_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Ollama: OllamaConfig{
			URL:           "http://localhost:11434",
			Model:         "qwen3:14b",
			TimeoutSec:    60,
			FastSec:       10,
			RetryAttempts: 1,
		},
		Audio: AudioConfig{
			SilenceWindowSec:     2,
			NoiseFloorMultiplier: 0.50,
			MinRecordSec:         2,
			MaxRecordSec:         30,
		},
		Context: ContextConfig{
			DefaultWords:    400,
			MinWords:        100,
			MaxWords:        800,
			ReductionFactor: 0.7,
			RecoveryStep:    50,
		},
		Calendar: CalendarConfig{
			DBPath:           "calendar.db",
			CheckIntervalSec: 30,
		},
		Chat: ChatConfig{MaxSessions: 8},
		Match: MatchConfig{
			MaxEditDistance: 0.5,
		},
		MQTT: MQTTConfig{
			DiscoveryPrefix:   "homeassistant",
			DeviceName:        "lumen",
			StatusIntervalSec: 30,
		},
		DataDir: ".",
	}
}
