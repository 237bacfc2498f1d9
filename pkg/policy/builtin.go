package policy

// DefaultBulkThreshold is the command count above which the bulk-change
// policy warns.
const DefaultBulkThreshold = 50

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		vlan1ProtectionPolicy(),
		productionSafetyPolicy(),
		bulkChangePolicy(),
	}
}

// vlan1ProtectionPolicy refuses to remove or reset the default VLAN SVI.
func vlan1ProtectionPolicy() Policy {
	return Policy{
		Name:        "vlan1-protection",
		Description: "Refuses commands that remove or default interface Vlan1",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety", "vlan"},
		Rego: `package netconverge.policies.vlan1

import rego.v1

protected_commands := {"no interface vlan1", "default interface vlan1"}

deny contains violation if {
	some cmd in input.plan.commands
	normalized := lower(trim_space(cmd))
	protected_commands[normalized]
	violation := {
		"message": sprintf("command '%s' would remove the default VLAN interface", [cmd]),
		"severity": "error",
		"command": cmd,
	}
}
`,
	}
}

// productionSafetyPolicy blocks destructive phases against production
// devices unless the run is a check.
func productionSafetyPolicy() Policy {
	return Policy{
		Name:        "production-safety",
		Description: "Blocks removal and factory reset of interfaces in the production environment",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "environment"},
		Rego: `package netconverge.policies.production

import rego.v1

destructive_phases := {"remove", "default"}

deny contains violation if {
	input.context.environment == "production"
	not input.context.dry_run
	destructive_phases[input.plan.phase]
	violation := {
		"message": sprintf("%s of %s is not allowed in production", [input.plan.phase, input.plan.identifier]),
		"severity": "critical",
	}
}
`,
	}
}

// bulkChangePolicy warns when a single plan carries an unusually large
// number of commands.
func bulkChangePolicy() Policy {
	return Policy{
		Name:        "bulk-change",
		Description: "Warns when a plan carries more commands than the bulk threshold",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"review"},
		Rego: `package netconverge.policies.bulk

import rego.v1

default threshold := 50

threshold := data.netconverge.settings.bulk_threshold

deny contains violation if {
	count(input.plan.commands) > threshold
	violation := {
		"message": sprintf("plan for %s carries %d commands", [input.plan.identifier, count(input.plan.commands)]),
		"severity": "warning",
	}
}
`,
	}
}
