package engine

import (
	"context"

	"github.com/openfroyo/netconverge/pkg/resource"
)

// Format selects the shape of a device query response.
type Format string

const (
	// FormatJSON asks the device for structured output.
	FormatJSON Format = "json"

	// FormatText asks the device for the plain CLI rendering.
	FormatText Format = "text"
)

// Device is the transport collaborator. The engine never opens connections;
// it receives an already configured Device.
type Device interface {
	// Query runs a read-only command and returns the raw response. A missing
	// resource is reported with an error wrapping ErrNotFound.
	Query(ctx context.Context, command string, format Format) (string, error)

	// ApplyCommands applies an ordered command list as one unit.
	ApplyCommands(ctx context.Context, commands []string) error
}

// Profile binds one resource family to the device: how to read it and which
// commands select, create, remove and configure it.
type Profile interface {
	// Family returns the resource family handled by the profile.
	Family() resource.Family

	// Read returns the current record for id, or ErrAbsent.
	Read(ctx context.Context, id string) (resource.Record, error)

	// Commands returns the attribute command table of the family.
	Commands() CommandTable

	// SelectCommand returns the command entering the resource context.
	SelectCommand(id string) string

	// CreateCommands returns the minimal sequence instantiating the resource.
	CreateCommands(id string, kind resource.Kind) []string

	// Removable reports whether the unconfigured state removes the resource
	// rather than resetting it to factory default.
	Removable(kind resource.Kind) bool

	// RemoveCommands returns the sequence removing a present resource.
	RemoveCommands(id string, kind resource.Kind) []string

	// DefaultCommands returns the sequence resetting the resource to factory
	// default.
	DefaultCommands(id string, kind resource.Kind) []string
}

// DefaultProbe reports whether a resource is at factory default. It is kept
// behind an interface because the only probe available on CLI transports is
// a heuristic over the running configuration dump.
type DefaultProbe interface {
	AtDefault(ctx context.Context, id string) (bool, error)
}

// CommandGuard vets a compiled plan before anything is sent to the device.
// Returning an error aborts the cycle.
type CommandGuard interface {
	Check(ctx context.Context, plan *Plan) error
}
