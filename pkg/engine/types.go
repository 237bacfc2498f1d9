package engine

import (
	"fmt"

	"github.com/openfroyo/netconverge/pkg/resource"
)

// State is the caller-declared lifecycle target of a resource.
type State string

const (
	// StateConfigured converges the resource attributes to the desired record,
	// creating virtual resources when needed.
	StateConfigured State = "configured"

	// StateUnconfigured removes the resource, or defaults it when it cannot be
	// removed.
	StateUnconfigured State = "unconfigured"

	// StateDefault resets the resource to factory default.
	StateDefault State = "default"
)

// ParseState converts a string to a State, defaulting to StateConfigured
// for the empty string.
func ParseState(s string) (State, error) {
	switch State(s) {
	case "":
		return StateConfigured, nil
	case StateConfigured, StateUnconfigured, StateDefault:
		return State(s), nil
	default:
		return "", fmt.Errorf("invalid state %q (must be configured, unconfigured or default)", s)
	}
}

// Request is a single reconcile invocation.
type Request struct {
	// Name is the resource name. Required.
	Name string `json:"name" yaml:"name"`

	// Identifier overrides the device identifier; defaults to Name.
	Identifier string `json:"identifier,omitempty" yaml:"identifier,omitempty"`

	// State is the lifecycle target; defaults to configured.
	State State `json:"state,omitempty" yaml:"state,omitempty"`

	// NullAsDefault resets null desired attributes to device default instead
	// of leaving them untouched.
	NullAsDefault bool `json:"null_as_default,omitempty" yaml:"null_as_default,omitempty"`

	// CheckMode runs the full pipeline without invoking the executor.
	CheckMode bool `json:"check_mode,omitempty" yaml:"check_mode,omitempty"`

	// Desired is the desired record. Its name is forced to Name.
	Desired resource.Record `json:"-" yaml:"-"`
}

// ID returns the device identifier of the request.
func (r *Request) ID() string {
	if r.Identifier != "" {
		return r.Identifier
	}
	return r.Name
}

// Result reports the outcome of one reconcile cycle.
type Result struct {
	// Changed is true when commands were (or in check mode would be) applied.
	Changed bool `json:"changed" yaml:"changed"`

	// Created is true when the resource was instantiated by this cycle.
	Created bool `json:"created" yaml:"created"`

	// Commands lists every command of the cycle in execution order.
	Commands []string `json:"commands,omitempty" yaml:"commands,omitempty"`

	// Resource is the record read after the cycle, nil when absent.
	Resource resource.Record `json:"resource" yaml:"resource"`

	// CurrentResource is the record before the cycle, or after creation.
	CurrentResource resource.Record `json:"current_resource" yaml:"current_resource"`

	// NewResource is the desired record as resolved.
	NewResource resource.Record `json:"new_resource" yaml:"new_resource"`

	// TraceID identifies the sampled trace of the cycle, if any.
	TraceID string `json:"trace_id,omitempty" yaml:"trace_id,omitempty"`
}

// Changeset is the ordered list of desired attributes that differ from the
// current record.
type Changeset []resource.Attribute

// Empty reports whether the changeset carries no entries.
func (c Changeset) Empty() bool {
	return len(c) == 0
}

// Names returns the attribute names of the changeset in order.
func (c Changeset) Names() []string {
	names := make([]string, len(c))
	for i, a := range c {
		names[i] = a.Name
	}
	return names
}

// Plan is a compiled command sequence handed to the command guard.
type Plan struct {
	Family     resource.Family `json:"family"`
	Name       string          `json:"name"`
	Identifier string          `json:"identifier"`
	Kind       resource.Kind   `json:"kind"`
	State      State           `json:"state"`
	Phase      string          `json:"phase"`
	CheckMode  bool            `json:"check_mode"`
	Commands   []string        `json:"commands"`
}

// Plan phases.
const (
	PhaseCreate    = "create"
	PhaseConfigure = "configure"
	PhaseRemove    = "remove"
	PhaseDefault   = "default"
)
