package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// defaultConfigYAML is the starter configuration written by "lumen
// init". Values mirror config.Default; commented entries show the
// optional settings.
const defaultConfigYAML = `# Lumen configuration

listen:
  address: ""
  port: 8080

ollama:
  url: "http://localhost:11434"
  model: "qwen3:14b"
  timeout_sec: 60
  fast_sec: 10
  retry_attempts: 1

homeassistant:
  url: ""
  # token: "${HA_TOKEN}"

speech:
  stt_url: ""
  tts_url: ""

audio:
  silence_window_sec: 2
  noise_floor_multiplier: 0.5
  min_record_sec: 2
  max_record_sec: 30

context:
  default_words: 400
  min_words: 100
  max_words: 800
  reduction_factor: 0.7
  recovery_step: 50

calendar:
  db_path: "calendar.db"
  check_interval_sec: 30

chat:
  max_sessions: 8

match:
  max_edit_distance: 0.5

mqtt:
  enabled: false
  broker: "mqtt://localhost:1883"
  device_name: "lumen"
  status_interval_sec: 30

data_dir: "data"
log_level: "info"
`

// runInit initializes a Lumen working directory with a default config
// and data directory. Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Lumen workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(configPath, []byte(defaultConfigYAML)); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml, then run: lumen serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, so init never overwrites user customizations.
func writeIfMissing(path string, content []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil // already exists, skip
	}
	return os.WriteFile(path, content, 0o644)
}
