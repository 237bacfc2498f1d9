package engine

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/openfroyo/netconverge/pkg/resource"
)

// SetKind selects how the set command of an attribute is produced.
type SetKind int

const (
	// SetTemplate renders Template against the desired attribute values.
	SetTemplate SetKind = iota

	// SetDerived calls Derive with the desired attribute values.
	SetDerived
)

// AttributeCommand describes how one attribute maps to device commands.
type AttributeCommand struct {
	// Set selects between Template and Derive.
	Set SetKind

	// Template is a text/template over the desired values, keyed by attribute
	// name, e.g. "description {{.description}}".
	Template string

	// Derive computes the set command from the desired values.
	Derive func(values map[string]string) (string, error)

	// Default is the fixed command resetting the attribute to device default.
	Default string
}

// CommandTable maps attribute names to their commands. Attributes without an
// entry never produce commands.
type CommandTable map[string]AttributeCommand

// Compile turns a changeset into the ordered per-attribute command sequence.
//
// Null entries emit the attribute's default command when nullAsDefault is
// set and nothing otherwise. Non-null entries emit the set command rendered
// from the full desired record. The result never contains the resource
// selection command.
func Compile(changes Changeset, desired resource.Record, table CommandTable, nullAsDefault bool) ([]string, error) {
	if changes.Empty() {
		return nil, nil
	}

	var values map[string]string
	if desired != nil {
		values = resource.Values(desired)
	}

	commands := make([]string, 0, len(changes))
	for _, change := range changes {
		entry, ok := table[change.Name]
		if !ok {
			continue
		}

		if change.IsNull() {
			if nullAsDefault && entry.Default != "" {
				commands = append(commands, entry.Default)
			}
			continue
		}

		cmd, err := entry.render(change.Name, values)
		if err != nil {
			return nil, NewPermanentError("failed to compile command", err).
				WithCode(ErrCodeCompile).
				WithDetail("attribute", change.Name)
		}
		if cmd != "" {
			commands = append(commands, cmd)
		}
	}
	return commands, nil
}

func (c AttributeCommand) render(name string, values map[string]string) (string, error) {
	switch c.Set {
	case SetTemplate:
		tmpl, err := template.New(name).Option("missingkey=error").Parse(c.Template)
		if err != nil {
			return "", fmt.Errorf("parse template for %s: %w", name, err)
		}
		var sb strings.Builder
		if err := tmpl.Execute(&sb, values); err != nil {
			return "", fmt.Errorf("render template for %s: %w", name, err)
		}
		return sb.String(), nil
	case SetDerived:
		if c.Derive == nil {
			return "", fmt.Errorf("no deriver registered for %s", name)
		}
		return c.Derive(values)
	default:
		return "", fmt.Errorf("unknown set kind %d for %s", c.Set, name)
	}
}
