package homeassistant

import (
	"errors"
	"strings"
	"testing"
)

func testEntities() []Entity {
	return []Entity{
		{EntityID: "light.desk_light", Domain: "light", FriendlyName: "Desk Light", Area: "Office"},
		{EntityID: "light.kitchen_light", Domain: "light", FriendlyName: "Kitchen Light", Area: "Kitchen"},
		{EntityID: "switch.coffee_maker", Domain: "switch", FriendlyName: "Coffee Maker", Area: "Kitchen"},
		{EntityID: "climate.hallway", Domain: "climate", FriendlyName: "Hallway Thermostat", Area: "Hallway"},
	}
}

func TestResolveDescriptiveReference(t *testing.T) {
	r := &Resolver{MaxDistance: 0.5}

	got, err := r.Resolve("light above the desk", testEntities())
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.EntityID != "light.desk_light" {
		t.Errorf("resolved %q, want light.desk_light", got.EntityID)
	}
}

func TestResolveExactFriendlyName(t *testing.T) {
	r := &Resolver{MaxDistance: 0.5}

	got, err := r.Resolve("kitchen light", testEntities())
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.EntityID != "light.kitchen_light" {
		t.Errorf("resolved %q, want light.kitchen_light", got.EntityID)
	}
}

func TestResolveTypo(t *testing.T) {
	r := &Resolver{MaxDistance: 0.5}

	got, err := r.Resolve("cofee maker", testEntities())
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.EntityID != "switch.coffee_maker" {
		t.Errorf("resolved %q, want switch.coffee_maker", got.EntityID)
	}
}

func TestResolveNoMatch(t *testing.T) {
	r := &Resolver{MaxDistance: 0.3}

	_, err := r.Resolve("garage door opener", testEntities())
	if !errors.Is(err, ErrNoEntity) {
		t.Errorf("err = %v, want ErrNoEntity", err)
	}
}

func TestResolveEmptyInputs(t *testing.T) {
	r := &Resolver{MaxDistance: 0.5}

	if _, err := r.Resolve("", testEntities()); !errors.Is(err, ErrNoEntity) {
		t.Errorf("empty reference: err = %v, want ErrNoEntity", err)
	}
	if _, err := r.Resolve("desk light", nil); !errors.Is(err, ErrNoEntity) {
		t.Errorf("no entities: err = %v, want ErrNoEntity", err)
	}
}

func TestResolveSubstringBeatsFuzzy(t *testing.T) {
	// Both entities are plausible by edit distance, but only one is an
	// exact substring match; it must win regardless of distances.
	entities := []Entity{
		{EntityID: "light.bedroom_lamp", FriendlyName: "Bedroom Lamp"},
		{EntityID: "light.bedroom", FriendlyName: "Bedroom"},
	}
	r := &Resolver{MaxDistance: 0.6}

	got, err := r.Resolve("bedroom lamp", entities)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.EntityID != "light.bedroom_lamp" {
		t.Errorf("resolved %q, want light.bedroom_lamp", got.EntityID)
	}
}

func TestResolveTieBrokenByShortestEntityID(t *testing.T) {
	entities := []Entity{
		{EntityID: "light.desk_light_secondary", FriendlyName: "Desk Light"},
		{EntityID: "light.desk_light", FriendlyName: "Desk Light"},
	}
	r := &Resolver{MaxDistance: 0.5}

	got, err := r.Resolve("desk light", entities)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.EntityID != "light.desk_light" {
		t.Errorf("resolved %q, want the shorter light.desk_light", got.EntityID)
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"desk light", "desk light", 0},
		{"cofee", "coffee", 1},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPromptFragment(t *testing.T) {
	frag := PromptFragment(testEntities())
	for _, want := range []string{"light:", "switch:", "Desk Light", "light.kitchen_light", "Kitchen"} {
		if !strings.Contains(frag, want) {
			t.Errorf("PromptFragment missing %q\nGot:\n%s", want, frag)
		}
	}

	if got := PromptFragment(nil); !strings.Contains(got, "No smart home devices") {
		t.Errorf("empty inventory fragment = %q", got)
	}
}
