package eos

import (
	"context"
	"errors"
	"strings"

	"github.com/openfroyo/netconverge/pkg/engine"
)

// RunningConfigProbe decides factory default from the running-config
// section of an interface. The interface probe counts every line and treats
// the bare "interface X" header as default. The switchport probe only
// counts switchport lines, so addressing or a description does not make a
// port look non-default to the switchport family.
//
// This is a heuristic. Platforms that print non-default-looking lines for
// untouched ports (speed, breakout, hardware defaults) are reported as
// configured, which only costs a redundant reset.
type RunningConfigProbe struct {
	device engine.Device
	counts func(line string) bool
	limit  int
}

var _ engine.DefaultProbe = (*RunningConfigProbe)(nil)

// NewRunningConfigProbe creates the interface probe.
func NewRunningConfigProbe(device engine.Device) *RunningConfigProbe {
	return &RunningConfigProbe{
		device: device,
		counts: func(string) bool { return true },
		limit:  1,
	}
}

// NewSwitchportProbe creates the probe for the switchport family.
func NewSwitchportProbe(device engine.Device) *RunningConfigProbe {
	return &RunningConfigProbe{
		device: device,
		counts: isSwitchportLine,
		limit:  0,
	}
}

// NewProbe returns the probe matching a profile's family.
func NewProbe(device engine.Device, profile engine.Profile) *RunningConfigProbe {
	if _, ok := profile.(*SwitchportProfile); ok {
		return NewSwitchportProbe(device)
	}
	return NewRunningConfigProbe(device)
}

// AtDefault implements engine.DefaultProbe. A resource the device does not
// know about is at default.
func (p *RunningConfigProbe) AtDefault(ctx context.Context, id string) (bool, error) {
	out, err := p.device.Query(ctx, "show running-config interfaces "+id, engine.FormatText)
	if errors.Is(err, engine.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return p.significantLines(out) <= p.limit, nil
}

func (p *RunningConfigProbe) significantLines(out string) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "!" || !p.counts(line) {
			continue
		}
		n++
	}
	return n
}

func isSwitchportLine(line string) bool {
	return strings.HasPrefix(line, "switchport") || strings.HasPrefix(line, "no switchport")
}
