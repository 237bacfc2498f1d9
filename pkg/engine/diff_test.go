package engine

import (
	"reflect"
	"testing"

	"github.com/openfroyo/netconverge/pkg/resource"
)

func str(s string) *string { return resource.String(s) }

func TestDiff(t *testing.T) {
	tests := []struct {
		name    string
		desired resource.Record
		current resource.Record
		want    []string
	}{
		{
			name:    "identical records",
			desired: &resource.Interface{Name: "Ethernet1", Admin: str("enable"), Description: str("uplink")},
			current: &resource.Interface{Name: "Ethernet1", Admin: str("enable"), Description: str("uplink")},
			want:    []string{},
		},
		{
			name:    "null against null",
			desired: &resource.Interface{Name: "Ethernet1"},
			current: &resource.Interface{Name: "Ethernet1"},
			want:    []string{},
		},
		{
			name:    "value differs",
			desired: &resource.Interface{Name: "Ethernet1", Admin: str("disable"), Description: str("uplink")},
			current: &resource.Interface{Name: "Ethernet1", Admin: str("enable"), Description: str("uplink")},
			want:    []string{"admin"},
		},
		{
			name:    "null desired against value",
			desired: &resource.Interface{Name: "Ethernet1", Admin: str("disable")},
			current: &resource.Interface{Name: "Ethernet1", Admin: str("enable"), Description: str("uplink")},
			want:    []string{"admin", "description"},
		},
		{
			name:    "value desired against null",
			desired: &resource.Interface{Name: "Ethernet1", Description: str("uplink")},
			current: &resource.Interface{Name: "Ethernet1"},
			want:    []string{"description"},
		},
		{
			name:    "absent current yields every attribute",
			desired: &resource.Switchport{Name: "Ethernet1", Mode: str("access")},
			current: nil,
			want:    []string{"name", "mode", "access_vlan", "trunk_native_vlan", "trunk_allowed_vlans"},
		},
		{
			name:    "renamed resource",
			desired: &resource.Interface{Name: "uplink", Admin: str("enable")},
			current: &resource.Interface{Name: "Ethernet1", Admin: str("enable")},
			want:    []string{"name"},
		},
		{
			name:    "declaration order is kept",
			desired: &resource.Switchport{Name: "Ethernet1", Mode: str("trunk"), TrunkNativeVLAN: str("99"), TrunkAllowedVLANs: str("10")},
			current: &resource.Switchport{Name: "Ethernet1", Mode: str("access"), AccessVLAN: str("1"), TrunkNativeVLAN: str("1"), TrunkAllowedVLANs: str("1-4094")},
			want:    []string{"mode", "access_vlan", "trunk_native_vlan", "trunk_allowed_vlans"},
		},
		{
			name:    "family mismatch compares against nothing",
			desired: &resource.Interface{Name: "Ethernet1"},
			current: &resource.Switchport{Name: "Ethernet1"},
			want:    []string{"name", "admin", "description"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.desired, tt.current).Names()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDiffCarriesDesiredValues(t *testing.T) {
	desired := &resource.Interface{Name: "Ethernet1", Admin: str("disable")}
	current := &resource.Interface{Name: "Ethernet1", Admin: str("enable"), Description: str("uplink")}

	changes := Diff(desired, current)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if resource.Deref(changes[0].Value) != "disable" {
		t.Errorf("expected desired admin value, got %v", changes[0])
	}
	if !changes[1].IsNull() {
		t.Errorf("expected null description, got %v", changes[1])
	}
}

func TestDiffMinimality(t *testing.T) {
	// Every entry must differ from the current value and every differing
	// attribute must be present.
	desired := &resource.Switchport{Name: "Ethernet1", Mode: str("access"), AccessVLAN: str("10")}
	current := &resource.Switchport{Name: "Ethernet1", Mode: str("access"), AccessVLAN: str("1"), TrunkNativeVLAN: str("1")}

	changes := Diff(desired, current)
	have := make(map[string]*string)
	for _, a := range current.Attributes() {
		have[a.Name] = a.Value
	}

	seen := make(map[string]bool)
	for _, c := range changes {
		seen[c.Name] = true
		if sameValue(c.Value, have[c.Name]) {
			t.Errorf("changeset entry %s does not differ", c.Name)
		}
	}
	for _, a := range desired.Attributes() {
		if !sameValue(a.Value, have[a.Name]) && !seen[a.Name] {
			t.Errorf("differing attribute %s missing from changeset", a.Name)
		}
	}

	if Diff(nil, current) != nil {
		t.Error("expected nil changeset for nil desired record")
	}
}
