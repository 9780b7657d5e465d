package bus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestLoadOrCreateInstanceIDStable(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Fatalf("id %q is not a uuid: %v", first, err)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first != second {
		t.Errorf("id changed between calls: %q vs %q", first, second)
	}
}

func TestLoadOrCreateInstanceIDRecoversFromCorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, instanceFile), []byte("not-a-uuid"), 0o644); err != nil {
		t.Fatal(err)
	}

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("regenerated id %q is not a uuid", id)
	}

	again, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if id != again {
		t.Errorf("regenerated id not persisted: %q vs %q", id, again)
	}
}

func TestTopicLayout(t *testing.T) {
	tp := topics{device: "living-room"}

	tests := []struct {
		got  string
		want string
	}{
		{tp.request(), "lumen/living-room/turn/request"},
		{tp.result(), "lumen/living-room/turn/result"},
		{tp.stream("abc"), "lumen/living-room/turn/stream/abc"},
		{tp.reminder(), "lumen/living-room/reminder"},
		{tp.status(), "lumen/living-room/status"},
		{tp.availability(), "lumen/living-room/availability"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}
