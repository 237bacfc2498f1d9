package eos

import (
	"context"

	"github.com/openfroyo/netconverge/pkg/engine"
	"github.com/openfroyo/netconverge/pkg/resource"
)

var switchportCommands = engine.CommandTable{
	resource.AttrMode: {
		Set:      engine.SetTemplate,
		Template: "switchport mode {{.mode}}",
		Default:  "default switchport mode",
	},
	resource.AttrAccessVLAN: {
		Set:      engine.SetTemplate,
		Template: "switchport access vlan {{.access_vlan}}",
		Default:  "default switchport access vlan",
	},
	resource.AttrTrunkNativeVLAN: {
		Set:      engine.SetTemplate,
		Template: "switchport trunk native vlan {{.trunk_native_vlan}}",
		Default:  "default switchport trunk native vlan",
	},
	resource.AttrTrunkAllowedVLANs: {
		Set:      engine.SetTemplate,
		Template: "switchport trunk allowed vlan {{.trunk_allowed_vlans}}",
		Default:  "default switchport trunk allowed vlan",
	},
}

// SwitchportProfile reconciles the layer-2 settings of an interface.
type SwitchportProfile struct {
	device engine.Device
}

var _ engine.Profile = (*SwitchportProfile)(nil)

// NewSwitchportProfile creates the switchport profile.
func NewSwitchportProfile(device engine.Device) *SwitchportProfile {
	return &SwitchportProfile{device: device}
}

// Family implements engine.Profile.
func (p *SwitchportProfile) Family() resource.Family { return resource.FamilySwitchport }

// Read returns the switchport settings from "show interfaces X switchport".
// A routed port reports switching disabled and reads as absent.
func (p *SwitchportProfile) Read(ctx context.Context, id string) (resource.Record, error) {
	node, err := queryJSON(ctx, p.device, "show interfaces "+id+" switchport", "switchports", id)
	if err != nil {
		return nil, err
	}
	if !node.Get("enabled").Bool() {
		return nil, engine.ErrAbsent
	}

	info := node.Get("switchportInfo")
	rec := &resource.Switchport{Name: id}
	if v := info.Get("mode").String(); v != "" {
		rec.Mode = resource.String(v)
	}
	if v := info.Get("accessVlanId"); v.Exists() {
		rec.AccessVLAN = resource.String(v.String())
	}
	if v := info.Get("trunkingNativeVlanId"); v.Exists() {
		rec.TrunkNativeVLAN = resource.String(v.String())
	}
	if v := info.Get("trunkAllowedVlans").String(); v != "" {
		rec.TrunkAllowedVLANs = resource.String(v)
	}
	return resource.Canonical(rec), nil
}

// Commands implements engine.Profile.
func (p *SwitchportProfile) Commands() engine.CommandTable { return switchportCommands }

// SelectCommand implements engine.Profile.
func (p *SwitchportProfile) SelectCommand(id string) string { return "interface " + id }

// CreateCommands implements engine.Profile. Addressing is dropped before
// switching is enabled, since EOS refuses switchport on an addressed port.
func (p *SwitchportProfile) CreateCommands(id string, kind resource.Kind) []string {
	return []string{
		"interface " + id,
		"no ip address",
		"switchport",
	}
}

// Removable implements engine.Profile.
func (p *SwitchportProfile) Removable(kind resource.Kind) bool { return true }

// RemoveCommands implements engine.Profile.
func (p *SwitchportProfile) RemoveCommands(id string, kind resource.Kind) []string {
	return []string{
		"interface " + id,
		"no switchport",
	}
}

// DefaultCommands implements engine.Profile. Only the layer-2 settings are
// reset; addressing and description belong to the interface.
func (p *SwitchportProfile) DefaultCommands(id string, kind resource.Kind) []string {
	return []string{
		"interface " + id,
		"default switchport",
	}
}
