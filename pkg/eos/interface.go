package eos

import (
	"context"
	"fmt"

	"github.com/openfroyo/netconverge/pkg/engine"
	"github.com/openfroyo/netconverge/pkg/resource"
)

var interfaceCommands = engine.CommandTable{
	resource.AttrAdmin: {
		Set:     engine.SetDerived,
		Derive:  adminCommand,
		Default: "default shutdown",
	},
	resource.AttrDescription: {
		Set:      engine.SetTemplate,
		Template: "description {{.description}}",
		Default:  "default description",
	},
}

func adminCommand(values map[string]string) (string, error) {
	switch admin := values[resource.AttrAdmin]; admin {
	case resource.AdminDisable:
		return "shutdown", nil
	case resource.AdminEnable:
		return "no shutdown", nil
	default:
		return "", fmt.Errorf("admin must be %s or %s, got %q", resource.AdminEnable, resource.AdminDisable, admin)
	}
}

// InterfaceProfile reconciles interface records.
type InterfaceProfile struct {
	device engine.Device
}

var _ engine.Profile = (*InterfaceProfile)(nil)

// NewInterfaceProfile creates the interface profile.
func NewInterfaceProfile(device engine.Device) *InterfaceProfile {
	return &InterfaceProfile{device: device}
}

// Family implements engine.Profile.
func (p *InterfaceProfile) Family() resource.Family { return resource.FamilyInterface }

// Read returns admin state and description from "show interfaces X".
func (p *InterfaceProfile) Read(ctx context.Context, id string) (resource.Record, error) {
	node, err := queryJSON(ctx, p.device, "show interfaces "+id, "interfaces", id)
	if err != nil {
		return nil, err
	}

	admin := resource.AdminEnable
	if node.Get("interfaceStatus").String() == "disabled" {
		admin = resource.AdminDisable
	}

	rec := &resource.Interface{
		Name:  id,
		Admin: resource.String(admin),
	}
	if desc := node.Get("description").String(); desc != "" {
		rec.Description = resource.String(desc)
	}
	return rec, nil
}

// Commands implements engine.Profile.
func (p *InterfaceProfile) Commands() engine.CommandTable { return interfaceCommands }

// SelectCommand implements engine.Profile.
func (p *InterfaceProfile) SelectCommand(id string) string { return "interface " + id }

// CreateCommands implements engine.Profile. Entering the context of a
// virtual interface creates it.
func (p *InterfaceProfile) CreateCommands(id string, kind resource.Kind) []string {
	return []string{"interface " + id}
}

// Removable implements engine.Profile. Physical interfaces cannot be
// removed, only defaulted.
func (p *InterfaceProfile) Removable(kind resource.Kind) bool { return kind.Virtual() }

// RemoveCommands implements engine.Profile.
func (p *InterfaceProfile) RemoveCommands(id string, kind resource.Kind) []string {
	return []string{"no interface " + id}
}

// DefaultCommands implements engine.Profile.
func (p *InterfaceProfile) DefaultCommands(id string, kind resource.Kind) []string {
	return []string{"default interface " + id}
}
