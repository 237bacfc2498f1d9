package resource

import (
	"fmt"
	"strings"
)

// Kind is the subtype of a resource derived from its identifier.
type Kind string

const (
	KindEthernet    Kind = "ethernet"
	KindSVI         Kind = "svi"
	KindLoopback    Kind = "loopback"
	KindPortChannel Kind = "port-channel"
	KindUnknown     Kind = "unknown"
	KindInvalid     Kind = "invalid"
)

// Creatable reports whether a resource of this kind may be instantiated when
// it is missing from the device.
//
// For interfaces only virtual kinds qualify. For switchports the family
// decides: enabling switching on an existing port is what creates one, so
// both switchport kinds are creatable.
func (k Kind) Creatable(family Family) bool {
	switch family {
	case FamilySwitchport:
		return k == KindEthernet || k == KindPortChannel
	default:
		return k == KindSVI || k == KindLoopback
	}
}

// Virtual reports whether the interface kind exists only in configuration.
func (k Kind) Virtual() bool {
	return k == KindSVI || k == KindLoopback
}

// ClassificationError is returned when an identifier matches no known kind.
type ClassificationError struct {
	Family     Family
	Identifier string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("unsupported %s identifier %q", e.Family, e.Identifier)
}

// ClassifyInterface maps an interface identifier to its kind by a
// case-insensitive prefix match. Identifiers that match nothing are
// KindUnknown.
func ClassifyInterface(id string) Kind {
	switch prefix(id) {
	case "ET":
		return KindEthernet
	case "VL":
		return KindSVI
	case "LO":
		return KindLoopback
	default:
		return KindUnknown
	}
}

// ClassifySwitchport maps a switchport identifier to its kind. Only ethernet
// and port-channel interfaces can carry switchport settings; anything else is
// KindInvalid.
func ClassifySwitchport(id string) Kind {
	switch prefix(id) {
	case "ET":
		return KindEthernet
	case "PO":
		return KindPortChannel
	default:
		return KindInvalid
	}
}

// Classify dispatches to the classifier of the family and returns a
// ClassificationError for identifiers that cannot be reconciled.
func Classify(family Family, id string) (Kind, error) {
	var kind Kind
	switch family {
	case FamilyInterface:
		kind = ClassifyInterface(id)
	case FamilySwitchport:
		kind = ClassifySwitchport(id)
	default:
		return KindInvalid, fmt.Errorf("unknown resource family: %s", family)
	}

	if kind == KindUnknown || kind == KindInvalid {
		return kind, &ClassificationError{Family: family, Identifier: id}
	}
	return kind, nil
}

func prefix(id string) string {
	if len(id) < 2 {
		return ""
	}
	return strings.ToUpper(id[:2])
}
