package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/netconverge/pkg/engine"
)

var _ engine.CommandGuard = (*Engine)(nil)

// Engine evaluates Rego policies against compiled plans. It implements
// engine.CommandGuard.
type Engine struct {
	mu          sync.RWMutex
	policies    map[string]*compiledPolicy
	store       storage.Store
	logger      zerolog.Logger
	loader      *Loader
	environment string
	device      string

	// overrides survive ReplacePolicies, so a policy switched off stays off
	// across hot reloads.
	overrides map[string]bool
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	builtin  bool
	compiled time.Time
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	environment   string
	device        string
	bulkThreshold int
}

// WithEnvironment sets the environment label exposed as
// input.context.environment.
func WithEnvironment(env string) Option {
	return func(o *engineOptions) { o.environment = env }
}

// WithDevice sets the device address exposed as input.context.device.
func WithDevice(host string) Option {
	return func(o *engineOptions) { o.device = host }
}

// WithBulkThreshold overrides the command count used by the bulk-change
// policy.
func WithBulkThreshold(n int) Option {
	return func(o *engineOptions) { o.bulkThreshold = n }
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	o := engineOptions{bulkThreshold: DefaultBulkThreshold}
	for _, opt := range opts {
		opt(&o)
	}

	store := inmem.NewFromObject(map[string]interface{}{
		"netconverge": map[string]interface{}{
			"settings": map[string]interface{}{
				"bulk_threshold": o.bulkThreshold,
			},
		},
	})

	e := &Engine{
		policies:    make(map[string]*compiledPolicy),
		overrides:   make(map[string]bool),
		store:       store,
		logger:      logger.With().Str("component", "policy-engine").Logger(),
		environment: o.environment,
		device:      o.device,
	}
	e.loader = NewLoader(e.logger)

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Check evaluates the plan and returns a POLICY_DENIED error when any
// blocking violation is raised. Non-blocking violations are logged.
func (e *Engine) Check(ctx context.Context, plan *engine.Plan) error {
	result, err := e.Evaluate(ctx, plan)
	if err != nil {
		return engine.NewPermanentError("policy evaluation failed", err).
			WithCode(engine.ErrCodePolicyDenied).
			WithResource(plan.Identifier).
			WithOperation(plan.Phase)
	}

	var blocking []Violation
	for _, v := range result.Violations {
		if v.Severity.Blocking() {
			blocking = append(blocking, v)
			continue
		}
		e.logger.Warn().
			Str("policy", v.Policy).
			Str("resource_id", plan.Identifier).
			Msg(v.Message)
	}

	if result.Allowed {
		return nil
	}

	return engine.NewPermanentError(fmt.Sprintf("plan denied by policy %s: %s", blocking[0].Policy, blocking[0].Message), nil).
		WithCode(engine.ErrCodePolicyDenied).
		WithResource(plan.Identifier).
		WithOperation(plan.Phase).
		WithDetail("violations", blocking)
}

// Evaluate runs every enabled policy against the plan.
func (e *Engine) Evaluate(ctx context.Context, plan *engine.Plan) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := &Input{
		Plan: plan,
		Context: &Context{
			Timestamp:   startTime,
			Environment: e.environment,
			Device:      e.device,
			DryRun:      plan.CheckMode,
		},
	}

	names := make([]string, 0, len(e.policies))
	for name, cp := range e.policies {
		if cp.policy.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	result := &Result{Allowed: true, Evaluated: names}
	for _, name := range names {
		cp := e.policies[name]
		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("resource_id", plan.Identifier).
				Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		result.Violations = append(result.Violations, violations...)
	}

	for _, v := range result.Violations {
		if v.Severity.Blocking() {
			result.Allowed = false
			break
		}
	}
	result.EvaluatedAt = time.Now()

	e.logger.Debug().
		Str("resource_id", plan.Identifier).
		Str("phase", plan.Phase).
		Int("violations", len(result.Violations)).
		Dur("duration", time.Since(startTime)).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// LoadPolicies loads policy files and directories and adds them to the
// engine. A policy with the same name as an existing one replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i], false); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// Watch reloads the custom policies whenever a file under paths changes.
// A reload that fails to compile leaves the previous set in place.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplacePolicies(ctx, policies)
	})
}

// Close stops any active watch.
func (e *Engine) Close() error {
	return e.loader.StopWatching()
}

// ReplacePolicies swaps the custom policy set for policies. Built-in
// policies are kept.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.policies
	e.policies = make(map[string]*compiledPolicy, len(previous)+len(policies))
	for name, cp := range previous {
		if cp.builtin {
			e.policies[name] = cp
		}
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i], false); err != nil {
			e.policies = previous
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Custom policies replaced")

	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		if denySet, ok := result.Expressions[0].Value.([]interface{}); ok {
			for _, d := range denySet {
				violations = append(violations, createViolation(cp.policy, d))
			}
		}
	}

	return violations, nil
}

// createViolation creates a Violation from a deny set entry.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if cmd, ok := v["command"].(string); ok {
			violation.Command = cmd
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it. The caller holds
// the write lock.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy, builtin bool) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if enabled, ok := e.overrides[policy.Name]; ok {
		policy.Enabled = enabled
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		builtin:  builtin,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i], true); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })

	return policies
}

// EnablePolicy enables a policy by name. The choice is reapplied when the
// policy is reloaded.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name. The choice is reapplied when the
// policy is reloaded.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.overrides[name] = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy override set")

	return nil
}
