package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lumen-home/lumen/internal/homeassistant"
)

// SmartHomeAdapter routes device intents to Home Assistant. Spoken
// targets are resolved against the entity inventory before the service
// call, so "the light above the desk" reaches light.desk_light.
type SmartHomeAdapter struct {
	client    *homeassistant.Client
	inventory *homeassistant.Inventory
	resolver  *homeassistant.Resolver
}

// NewSmartHomeAdapter creates the smart home adapter.
func NewSmartHomeAdapter(client *homeassistant.Client, inventory *homeassistant.Inventory, resolver *homeassistant.Resolver) *SmartHomeAdapter {
	return &SmartHomeAdapter{client: client, inventory: inventory, resolver: resolver}
}

// Domain implements [Adapter].
func (a *SmartHomeAdapter) Domain() string { return "smarthome" }

// Register implements [Adapter].
func (a *SmartHomeAdapter) Register(r *Registry) {
	r.Register(a.Domain(), "turn_on", a.service("turn_on"))
	r.Register(a.Domain(), "turn_off", a.service("turn_off"))
	r.Register(a.Domain(), "toggle", a.service("toggle"))
	r.Register(a.Domain(), "set", a.handleSet)
	r.Register(a.Domain(), "status", a.handleStatus)
}

// service builds a handler for simple on/off/toggle services, which
// exist under every controllable entity's own domain.
func (a *SmartHomeAdapter) service(name string) Handler {
	return func(ctx context.Context, intent Intent) (string, error) {
		entity, err := a.resolveTarget(ctx, intent.Target)
		if err != nil {
			return "", err
		}
		if err := a.client.CallService(ctx, entity.Domain, name, entity.EntityID, intent.Args); err != nil {
			return "", fmt.Errorf("%s %s: %w", name, entity.EntityID, err)
		}
		return fmt.Sprintf("%s %s", name, entity.EntityID), nil
	}
}

// handleSet applies attribute changes (brightness, temperature, color)
// through the entity domain's turn_on or set service.
func (a *SmartHomeAdapter) handleSet(ctx context.Context, intent Intent) (string, error) {
	entity, err := a.resolveTarget(ctx, intent.Target)
	if err != nil {
		return "", err
	}
	if len(intent.Args) == 0 {
		return "", fmt.Errorf("set %s: no attributes given", entity.EntityID)
	}

	service := "turn_on"
	if entity.Domain == "climate" {
		service = "set_temperature"
	}
	if err := a.client.CallService(ctx, entity.Domain, service, entity.EntityID, intent.Args); err != nil {
		return "", fmt.Errorf("set %s: %w", entity.EntityID, err)
	}
	return fmt.Sprintf("set %s on %s", describeArgs(intent.Args), entity.EntityID), nil
}

func (a *SmartHomeAdapter) handleStatus(ctx context.Context, intent Intent) (string, error) {
	entity, err := a.resolveTarget(ctx, intent.Target)
	if err != nil {
		return "", err
	}
	name := entity.FriendlyName
	if name == "" {
		name = entity.EntityID
	}
	return fmt.Sprintf("%s is %s", name, entity.State), nil
}

func (a *SmartHomeAdapter) resolveTarget(ctx context.Context, target string) (homeassistant.Entity, error) {
	if target == "" {
		return homeassistant.Entity{}, errors.New("no device named")
	}
	entities, err := a.inventory.Entities(ctx)
	if err != nil {
		return homeassistant.Entity{}, fmt.Errorf("load devices: %w", err)
	}
	entity, err := a.resolver.Resolve(target, entities)
	if errors.Is(err, homeassistant.ErrNoEntity) {
		return homeassistant.Entity{}, fmt.Errorf("device %q not found", target)
	}
	return entity, err
}

func describeArgs(args map[string]any) string {
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}
