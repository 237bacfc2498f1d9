package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/netconverge/pkg/engine"
	"github.com/openfroyo/netconverge/pkg/resource"
)

// Desired is a desired-state file describing one resource:
//
//	family: switchport
//	name: Ethernet1
//	state: configured
//	attributes:
//	  mode: access
//	  access_vlan: 10
//
// An attribute set to null, or left out, is null.
type Desired struct {
	Family        resource.Family        `yaml:"family" validate:"required,oneof=interface switchport"`
	Name          string                 `yaml:"name" validate:"required"`
	Identifier    string                 `yaml:"identifier"`
	State         string                 `yaml:"state" validate:"omitempty,oneof=configured unconfigured default"`
	NullAsDefault bool                   `yaml:"null_as_default"`
	Attributes    map[string]interface{} `yaml:"attributes"`
}

// LoadDesired reads and validates a desired-state file.
func LoadDesired(path string) (*Desired, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read desired state: %w", err)
	}

	d, err := ParseDesired(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// ParseDesired decodes and validates a desired-state document.
func ParseDesired(data []byte) (*Desired, error) {
	var d Desired
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("desired state is empty")
		}
		return nil, fmt.Errorf("failed to parse desired state: %w", err)
	}

	if err := resource.Validator().Struct(&d); err != nil {
		return nil, fmt.Errorf("invalid desired state: %w", err)
	}

	return &d, nil
}

// Record builds the desired record. Scalar values of any YAML type are
// taken in their string form so that "access_vlan: 10" reads as "10".
func (d *Desired) Record() (resource.Record, error) {
	values := make(map[string]*string, len(d.Attributes))
	for key, raw := range d.Attributes {
		switch v := raw.(type) {
		case nil:
			values[key] = nil
		case string:
			values[key] = resource.String(v)
		case int:
			values[key] = resource.String(strconv.Itoa(v))
		case bool, float64:
			values[key] = resource.String(fmt.Sprint(v))
		default:
			return nil, fmt.Errorf("attribute %s must be a scalar, got %T", key, raw)
		}
	}

	record, err := resource.New(d.Family, d.Name, values)
	if err != nil {
		return nil, err
	}
	if err := resource.Validate(record); err != nil {
		return nil, err
	}
	return record, nil
}

// Request converts the file into a reconcile request.
func (d *Desired) Request() (*engine.Request, error) {
	state, err := engine.ParseState(d.State)
	if err != nil {
		return nil, err
	}

	record, err := d.Record()
	if err != nil {
		return nil, err
	}

	return &engine.Request{
		Name:          d.Name,
		Identifier:    d.Identifier,
		State:         state,
		NullAsDefault: d.NullAsDefault,
		Desired:       record,
	}, nil
}
