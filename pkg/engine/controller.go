package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/netconverge/pkg/resource"
	"github.com/openfroyo/netconverge/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Controller runs one reconcile cycle per call for a single resource family:
// read, optionally create, diff, compile, apply and read again.
//
// A Controller holds no state between calls. Two concurrent calls against
// the same device resource are not coordinated.
type Controller struct {
	device  Device
	profile Profile
	probe   DefaultProbe
	guard   CommandGuard
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// Option configures optional collaborators of a Controller.
type Option func(*Controller)

// WithGuard installs a command guard consulted before every execution.
func WithGuard(guard CommandGuard) Option {
	return func(c *Controller) { c.guard = guard }
}

// WithMetrics records cycle metrics.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(c *Controller) { c.metrics = metrics }
}

// WithTracer records cycle spans.
func WithTracer(tracer *telemetry.Tracer) Option {
	return func(c *Controller) { c.tracer = tracer }
}

// NewController creates a controller for the family handled by profile.
func NewController(device Device, profile Profile, probe DefaultProbe, logger *telemetry.Logger, opts ...Option) *Controller {
	c := &Controller{
		device:  device,
		profile: profile,
		probe:   probe,
		logger:  logger.Component(string(profile.Family()) + "-controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cycle carries the per-invocation context of a reconcile.
type cycle struct {
	req     *Request
	id      string
	kind    resource.Kind
	desired resource.Record
	result  *Result
	logger  *telemetry.Logger
}

// Reconcile converges one resource to the requested lifecycle state.
func (c *Controller) Reconcile(ctx context.Context, req *Request) (result *Result, err error) {
	start := time.Now()
	family := c.profile.Family()

	cy, err := c.prepare(req)
	if err != nil {
		c.observe(family, "", start, nil, err)
		return nil, err
	}

	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.StartReconcileSpan(ctx, string(family), cy.id, string(cy.req.State))
		defer func() { telemetry.EndSpan(span, err) }()

		if id := telemetry.TraceID(ctx); id != "" {
			cy.result.TraceID = id
			cy.logger = cy.logger.WithTrace(id)
		}
	}

	cy.logger.Debug("Starting reconcile")

	switch cy.req.State {
	case StateConfigured:
		err = c.configure(ctx, cy)
	case StateUnconfigured:
		err = c.unconfigure(ctx, cy)
	case StateDefault:
		err = c.reset(ctx, cy)
	}
	if err != nil {
		cy.logger.WithError(err).Error("Reconcile failed")
		c.observe(family, cy.req.State, start, nil, err)
		return nil, err
	}

	cy.result.Changed = len(cy.result.Commands) > 0

	// The final read always happens so the caller sees what the device holds.
	final, err := c.read(ctx, cy.id)
	if err != nil {
		c.observe(family, cy.req.State, start, nil, err)
		return nil, err
	}
	cy.result.Resource = final

	cy.logger.WithFields(map[string]interface{}{
		"changed":  cy.result.Changed,
		"created":  cy.result.Created,
		"commands": len(cy.result.Commands),
	}).Info("Reconcile completed")

	c.observe(family, cy.req.State, start, cy.result, nil)
	return cy.result, nil
}

// prepare validates the request, classifies the identifier and resolves the
// desired record. Nothing touches the device before it succeeds.
func (c *Controller) prepare(req *Request) (*cycle, error) {
	if req == nil || req.Name == "" {
		return nil, NewPermanentError("resource name is required", nil).
			WithCode(ErrCodeValidation)
	}

	state, err := ParseState(string(req.State))
	if err != nil {
		return nil, NewPermanentError("invalid request", err).
			WithCode(ErrCodeValidation).
			WithResource(req.Name)
	}
	resolved := *req
	resolved.State = state
	id := resolved.ID()

	family := c.profile.Family()
	kind, err := resource.Classify(family, id)
	if err != nil {
		return nil, NewPermanentError("cannot classify resource", err).
			WithCode(ErrCodeClassification).
			WithResource(id)
	}

	desired := req.Desired
	if desired == nil {
		desired, _ = resource.Blank(family, req.Name)
	}
	if desired.Family() != family {
		return nil, NewPermanentError(
			fmt.Sprintf("desired record is a %s, expected %s", desired.Family(), family), nil).
			WithCode(ErrCodeValidation).
			WithResource(id)
	}
	desired = resource.Canonical(resource.Rename(desired, req.Name))
	if err := resource.Validate(desired); err != nil {
		return nil, NewPermanentError("invalid desired record", err).
			WithCode(ErrCodeValidation).
			WithResource(id)
	}

	return &cycle{
		req:     &resolved,
		id:      id,
		kind:    kind,
		desired: desired,
		result:  &Result{NewResource: desired},
		logger: c.logger.ForResource(string(family), id).WithFields(map[string]interface{}{
			"state":      string(state),
			"kind":       string(kind),
			"check_mode": resolved.CheckMode,
		}),
	}, nil
}

// configure implements the configured state.
func (c *Controller) configure(ctx context.Context, cy *cycle) error {
	current, err := c.read(ctx, cy.id)
	if err != nil {
		return err
	}

	if current == nil {
		if !cy.kind.Creatable(c.profile.Family()) {
			return NewPermanentError("resource does not exist and cannot be created", ErrNotFound).
				WithCode(ErrCodeNotFound).
				WithResource(cy.id).
				WithOperation(PhaseCreate)
		}

		if current, err = c.create(ctx, cy); err != nil {
			return err
		}
	}
	cy.result.CurrentResource = current

	changes := Diff(cy.desired, current)
	cmds, err := Compile(changes, cy.desired, c.profile.Commands(), cy.req.NullAsDefault)
	if err != nil {
		var eerr *EngineError
		if errors.As(err, &eerr) {
			eerr.WithResource(cy.id)
		}
		return err
	}

	cy.logger.WithFields(map[string]interface{}{
		"changeset": changes.Names(),
		"commands":  len(cmds),
	}).Debug("Computed changeset")

	if len(cmds) == 0 {
		return nil
	}

	seq := append([]string{c.profile.SelectCommand(cy.id)}, cmds...)
	return c.execute(ctx, cy, PhaseConfigure, seq)
}

// create instantiates a missing resource and returns the record to diff
// against. In check mode nothing is sent, so a blank record stands in.
func (c *Controller) create(ctx context.Context, cy *cycle) (resource.Record, error) {
	cmds := c.profile.CreateCommands(cy.id, cy.kind)
	if err := c.execute(ctx, cy, PhaseCreate, cmds); err != nil {
		return nil, err
	}
	cy.result.Created = true
	cy.logger.Info("Created resource")

	if cy.req.CheckMode {
		return resource.Blank(c.profile.Family(), cy.id)
	}

	current, err := c.read(ctx, cy.id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, NewConflictError("resource still absent after creation", ErrNotFound).
			WithCode(ErrCodeNotFound).
			WithResource(cy.id).
			WithOperation(PhaseCreate)
	}
	return current, nil
}

// unconfigure implements the unconfigured state: removable resources are
// removed when present, the others are defaulted.
func (c *Controller) unconfigure(ctx context.Context, cy *cycle) error {
	if !c.profile.Removable(cy.kind) {
		return c.reset(ctx, cy)
	}

	current, err := c.read(ctx, cy.id)
	if err != nil {
		return err
	}
	cy.result.CurrentResource = current
	if current == nil {
		return nil
	}
	return c.execute(ctx, cy, PhaseRemove, c.profile.RemoveCommands(cy.id, cy.kind))
}

// reset implements the default state.
func (c *Controller) reset(ctx context.Context, cy *cycle) error {
	current, err := c.read(ctx, cy.id)
	if err != nil {
		return err
	}
	cy.result.CurrentResource = current

	atDefault, err := c.probe.AtDefault(ctx, cy.id)
	if err != nil {
		return err
	}
	if atDefault {
		cy.logger.Debug("Resource already at default")
		return nil
	}
	return c.execute(ctx, cy, PhaseDefault, c.profile.DefaultCommands(cy.id, cy.kind))
}

// read returns the current record, or nil when the resource is absent.
func (c *Controller) read(ctx context.Context, id string) (resource.Record, error) {
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.StartReadSpan(ctx, id)
		defer span.End()
	}

	rec, err := c.profile.Read(ctx, id)
	if errors.Is(err, ErrAbsent) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// execute vets a complete sequence and hands it to the device in one call.
// Check mode stops after the guard.
func (c *Controller) execute(ctx context.Context, cy *cycle, phase string, cmds []string) error {
	if len(cmds) == 0 {
		return nil
	}

	plan := &Plan{
		Family:     c.profile.Family(),
		Name:       cy.req.Name,
		Identifier: cy.id,
		Kind:       cy.kind,
		State:      cy.req.State,
		Phase:      phase,
		CheckMode:  cy.req.CheckMode,
		Commands:   cmds,
	}

	if c.guard != nil {
		if err := c.guard.Check(ctx, plan); err != nil {
			return err
		}
	}

	cy.result.Commands = append(cy.result.Commands, cmds...)

	if cy.req.CheckMode {
		cy.logger.WithField("phase", phase).Infof("Check mode: %d command(s) not applied", len(cmds))
		return nil
	}

	if err := c.apply(ctx, cy.id, phase, cmds); err != nil {
		return err
	}

	if c.metrics != nil {
		c.metrics.RecordCommandsApplied(string(c.profile.Family()), phase, len(cmds))
	}
	cy.logger.WithFields(map[string]interface{}{
		"phase":    phase,
		"commands": cmds,
	}).Info("Applied commands")
	return nil
}

func (c *Controller) apply(ctx context.Context, id, phase string, cmds []string) (err error) {
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.StartApplySpan(ctx, id, phase, len(cmds))
		defer func() { telemetry.EndSpan(span, err) }()
	}
	return c.device.ApplyCommands(ctx, cmds)
}

func (c *Controller) observe(family resource.Family, state State, start time.Time, result *Result, err error) {
	if c.metrics == nil {
		return
	}

	outcome := "unchanged"
	switch {
	case err != nil:
		outcome = "failed"
		class := string(Class(err))
		if class == "" {
			class = "transport"
		}
		c.metrics.RecordError(class, Code(err))
	case result != nil && result.Changed:
		outcome = "changed"
	}
	c.metrics.RecordReconcile(string(family), string(state), outcome, time.Since(start))
}
