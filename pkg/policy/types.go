package policy

import (
	"time"

	"github.com/openfroyo/netconverge/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block the plan.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that must never reach a device.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code. The package must define a
	// deny set.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for builtins.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy" yaml:"policy"`

	// Message describes the violation.
	Message string `json:"message" yaml:"message"`

	// Severity is the severity of this violation.
	Severity Severity `json:"severity" yaml:"severity"`

	// Command is the offending command, if the policy named one.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
}

// Result is the outcome of evaluating every enabled policy against a plan.
type Result struct {
	// Allowed is false when any blocking violation was raised.
	Allowed bool `json:"allowed" yaml:"allowed"`

	// Violations lists every violation, blocking or not.
	Violations []Violation `json:"violations,omitempty" yaml:"violations,omitempty"`

	// Evaluated lists the names of the policies that ran.
	Evaluated []string `json:"evaluated" yaml:"evaluated"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at" yaml:"evaluated_at"`
}

// Input is the document exposed to Rego as input.
type Input struct {
	// Plan is the compiled command sequence.
	Plan *engine.Plan `json:"plan" yaml:"plan"`

	// Context carries evaluation metadata.
	Context *Context `json:"context" yaml:"context"`
}

// Context provides metadata about the evaluation.
type Context struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Environment is the operator supplied environment label, such as
	// "lab" or "production".
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"`

	// Device is the management address of the target switch.
	Device string `json:"device,omitempty" yaml:"device,omitempty"`

	// DryRun is true when the plan will not be executed.
	DryRun bool `json:"dry_run" yaml:"dry_run"`
}
