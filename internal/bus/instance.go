// Package bus connects the assistant to an MQTT broker: it accepts
// turn requests from other devices on the network and publishes
// status, availability, and turn results back.
package bus

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// instanceFile is the filename under the data directory holding the
// stable instance ID.
const instanceFile = "instance-id"

// LoadOrCreateInstanceID returns this installation's stable identity,
// generating and persisting one on first run. The ID survives restarts
// so broker-side state (retained topics, discovery) stays attached to
// the same installation.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, instanceFile)

	if raw, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(raw))
		if _, err := uuid.Parse(id); err == nil {
			return id, nil
		}
		// Corrupt file: fall through and regenerate.
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate instance id: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id.String()+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist instance id: %w", err)
	}
	return id.String(), nil
}
