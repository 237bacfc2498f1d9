package eos

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/openfroyo/netconverge/pkg/engine"
	"github.com/openfroyo/netconverge/pkg/telemetry"
	"github.com/openfroyo/netconverge/pkg/transports/ssh"
)

// Commander is the part of the SSH transport a Device drives.
type Commander interface {
	Run(ctx context.Context, cmd string) (stdout string, stderr string, err error)
	RunScript(ctx context.Context, script string) (*ssh.ExecResult, error)
}

var _ engine.Device = (*Device)(nil)

// Device talks to the EOS CLI. Queries run as single exec commands; command
// lists are staged in a named configuration session and committed only when
// every line was accepted.
type Device struct {
	cli           Commander
	logger        *telemetry.Logger
	metrics       *telemetry.Metrics
	sessionPrefix string
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithDeviceMetrics counts queries by format and result.
func WithDeviceMetrics(metrics *telemetry.Metrics) DeviceOption {
	return func(d *Device) { d.metrics = metrics }
}

// WithSessionPrefix sets the prefix of configuration session names.
func WithSessionPrefix(prefix string) DeviceOption {
	return func(d *Device) { d.sessionPrefix = prefix }
}

// NewDevice creates a Device over cli.
func NewDevice(cli Commander, logger *telemetry.Logger, opts ...DeviceOption) *Device {
	d := &Device{
		cli:           cli,
		logger:        logger.Component("eos-device"),
		sessionPrefix: "netconverge",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Query runs a show command. JSON output is requested by piping to json.
func (d *Device) Query(ctx context.Context, command string, format engine.Format) (string, error) {
	line := command
	if format == engine.FormatJSON {
		line += " | json"
	}

	stdout, stderr, err := d.cli.Run(ctx, line)
	if msgs := cliErrors(stdout, stderr); len(msgs) > 0 {
		if isNotFound(msgs) {
			d.recordQuery(format, "not_found")
			return "", fmt.Errorf("%s: %w", command, engine.ErrNotFound)
		}
		d.recordQuery(format, "error")
		return "", &CommandError{Command: line, Messages: msgs, Err: err}
	}
	if err != nil {
		d.recordQuery(format, "error")
		return "", err
	}

	d.recordQuery(format, "ok")
	return stdout, nil
}

// ApplyCommands stages commands in a fresh configuration session and
// commits it. Any CLI error aborts the session so nothing is applied.
func (d *Device) ApplyCommands(ctx context.Context, commands []string) error {
	if len(commands) == 0 {
		return nil
	}
	for _, cmd := range commands {
		if strings.ContainsAny(cmd, "\r\n") {
			return fmt.Errorf("command %q contains a line break", cmd)
		}
	}

	session := d.sessionPrefix + "-" + uuid.NewString()[:8]
	logger := d.logger.WithField("session", session)

	var sb strings.Builder
	sb.WriteString("enable\n")
	sb.WriteString("configure session " + session + "\n")
	for _, cmd := range commands {
		sb.WriteString(cmd + "\n")
	}
	sb.WriteString("end\n")

	logger.WithField("commands", len(commands)).Debug("Staging configuration session")

	res, err := d.cli.RunScript(ctx, sb.String())
	if err != nil {
		return err
	}
	if msgs := cliErrors(res.Stdout, res.Stderr); len(msgs) > 0 {
		if abortErr := d.endSession(ctx, session, "abort"); abortErr != nil {
			logger.WithError(abortErr).Warn("Failed to abort configuration session")
		}
		return &CommandError{Session: session, Messages: msgs}
	}

	if err := d.endSession(ctx, session, "commit"); err != nil {
		return err
	}
	logger.Debug("Committed configuration session")
	return nil
}

// endSession commits or aborts a pending session.
func (d *Device) endSession(ctx context.Context, session, action string) error {
	res, err := d.cli.RunScript(ctx, "enable\nconfigure session "+session+" "+action+"\n")
	if err != nil {
		return err
	}
	if msgs := cliErrors(res.Stdout, res.Stderr); len(msgs) > 0 {
		return &CommandError{Session: session, Command: action, Messages: msgs}
	}
	return nil
}

func (d *Device) recordQuery(format engine.Format, result string) {
	if d.metrics != nil {
		d.metrics.RecordDeviceQuery(string(format), result)
	}
}

// CommandError reports lines the CLI rejected.
type CommandError struct {
	Session  string
	Command  string
	Messages []string
	Err      error
}

func (e *CommandError) Error() string {
	var sb strings.Builder
	sb.WriteString("device rejected")
	if e.Command != "" {
		sb.WriteString(" " + fmt.Sprintf("%q", e.Command))
	}
	if e.Session != "" {
		sb.WriteString(" in session " + e.Session)
	}
	sb.WriteString(": " + strings.Join(e.Messages, "; "))
	return sb.String()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// cliErrors collects the "% ..." lines EOS prints for rejected input.
func cliErrors(outputs ...string) []string {
	var msgs []string
	for _, out := range outputs {
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "% ") {
				msgs = append(msgs, strings.TrimPrefix(line, "% "))
			}
		}
	}
	return msgs
}

func isNotFound(msgs []string) bool {
	for _, msg := range msgs {
		if strings.Contains(strings.ToLower(msg), "does not exist") {
			return true
		}
	}
	return false
}
