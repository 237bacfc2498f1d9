package resource

import "fmt"

// Family identifies which kind of resource record is being reconciled.
type Family string

const (
	// FamilyInterface covers physical and virtual interfaces.
	FamilyInterface Family = "interface"

	// FamilySwitchport covers the layer-2 settings of an interface.
	FamilySwitchport Family = "switchport"
)

// Attribute names shared by records and command tables.
const (
	AttrName              = "name"
	AttrAdmin             = "admin"
	AttrDescription       = "description"
	AttrMode              = "mode"
	AttrAccessVLAN        = "access_vlan"
	AttrTrunkNativeVLAN   = "trunk_native_vlan"
	AttrTrunkAllowedVLANs = "trunk_allowed_vlans"
)

// Admin states accepted for the admin attribute.
const (
	AdminEnable  = "enable"
	AdminDisable = "disable"
)

// Switchport modes accepted for the mode attribute.
const (
	ModeAccess = "access"
	ModeTrunk  = "trunk"
)

// Attribute is a single (name, value) pair of a record. A nil Value is the
// null value.
type Attribute struct {
	Name  string  `json:"name" yaml:"name"`
	Value *string `json:"value" yaml:"value"`
}

// IsNull reports whether the attribute carries no value.
func (a Attribute) IsNull() bool {
	return a.Value == nil
}

// String renders the attribute for logs and diffs.
func (a Attribute) String() string {
	if a.Value == nil {
		return a.Name + "=<null>"
	}
	return fmt.Sprintf("%s=%q", a.Name, *a.Value)
}

// Record is the configurable surface of one resource.
type Record interface {
	// Family returns the resource family of the record.
	Family() Family

	// ResourceName returns the reconciliation key.
	ResourceName() string

	// Attributes returns every attribute, name first, in declaration order.
	Attributes() []Attribute
}

// Interface is the record shape for interfaces.
type Interface struct {
	Name        string  `json:"name" yaml:"name" validate:"required"`
	Admin       *string `json:"admin" yaml:"admin" validate:"omitnil,oneof=enable disable"`
	Description *string `json:"description" yaml:"description" validate:"omitnil,cliline,max=240"`
}

// Family implements Record.
func (i *Interface) Family() Family { return FamilyInterface }

// ResourceName implements Record.
func (i *Interface) ResourceName() string { return i.Name }

// Attributes implements Record.
func (i *Interface) Attributes() []Attribute {
	return []Attribute{
		{Name: AttrName, Value: String(i.Name)},
		{Name: AttrAdmin, Value: i.Admin},
		{Name: AttrDescription, Value: i.Description},
	}
}

// Switchport is the record shape for layer-2 switchport settings.
type Switchport struct {
	Name              string  `json:"name" yaml:"name" validate:"required"`
	Mode              *string `json:"mode" yaml:"mode" validate:"omitnil,oneof=trunk access"`
	AccessVLAN        *string `json:"access_vlan" yaml:"access_vlan" validate:"omitnil,vlan"`
	TrunkNativeVLAN   *string `json:"trunk_native_vlan" yaml:"trunk_native_vlan" validate:"omitnil,vlan"`
	TrunkAllowedVLANs *string `json:"trunk_allowed_vlans" yaml:"trunk_allowed_vlans" validate:"omitnil,vlanlist"`
}

// Family implements Record.
func (s *Switchport) Family() Family { return FamilySwitchport }

// ResourceName implements Record.
func (s *Switchport) ResourceName() string { return s.Name }

// Attributes implements Record.
func (s *Switchport) Attributes() []Attribute {
	return []Attribute{
		{Name: AttrName, Value: String(s.Name)},
		{Name: AttrMode, Value: s.Mode},
		{Name: AttrAccessVLAN, Value: s.AccessVLAN},
		{Name: AttrTrunkNativeVLAN, Value: s.TrunkNativeVLAN},
		{Name: AttrTrunkAllowedVLANs, Value: s.TrunkAllowedVLANs},
	}
}

// Blank returns a record of the given family carrying only the name.
func Blank(family Family, name string) (Record, error) {
	switch family {
	case FamilyInterface:
		return &Interface{Name: name}, nil
	case FamilySwitchport:
		return &Switchport{Name: name}, nil
	default:
		return nil, fmt.Errorf("unknown resource family: %s", family)
	}
}

// Rename returns a copy of r keyed by name.
func Rename(r Record, name string) Record {
	switch v := r.(type) {
	case *Interface:
		c := *v
		c.Name = name
		return &c
	case *Switchport:
		c := *v
		c.Name = name
		return &c
	default:
		return r
	}
}

// Values flattens the non-null attributes of a record into a map keyed by
// attribute name.
func Values(r Record) map[string]string {
	attrs := r.Attributes()
	values := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Value != nil {
			values[a.Name] = *a.Value
		}
	}
	return values
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}

// Deref returns the value behind p, or the empty string for nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// New builds a record of the given family from attribute values keyed by
// attribute name. Missing keys and nil values stay null. An unknown
// attribute name is an error. VLAN values are canonicalized.
func New(family Family, name string, values map[string]*string) (Record, error) {
	r, err := Blank(family, name)
	if err != nil {
		return nil, err
	}

	for key, value := range values {
		var slot **string
		switch v := r.(type) {
		case *Interface:
			switch key {
			case AttrAdmin:
				slot = &v.Admin
			case AttrDescription:
				slot = &v.Description
			}
		case *Switchport:
			switch key {
			case AttrMode:
				slot = &v.Mode
			case AttrAccessVLAN:
				slot = &v.AccessVLAN
			case AttrTrunkNativeVLAN:
				slot = &v.TrunkNativeVLAN
			case AttrTrunkAllowedVLANs:
				slot = &v.TrunkAllowedVLANs
			}
		}
		if slot == nil {
			return nil, fmt.Errorf("unknown %s attribute %q", family, key)
		}
		*slot = value
	}

	return Canonical(r), nil
}
