// Package policy provides Open Policy Agent (OPA) command guarding for
// netconverge.
//
// Every compiled plan is evaluated against a set of Rego policies before
// any command reaches the switch. The Engine implements
// engine.CommandGuard and is installed with engine.WithGuard.
//
// # Usage
//
//	guard, err := policy.NewEngine(logger.Zerolog(),
//	    policy.WithEnvironment("production"),
//	    policy.WithDevice("10.0.0.1"),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := guard.LoadPolicies(ctx, []string{"/etc/netconverge/policies"}); err != nil {
//	    return err
//	}
//	controller := engine.NewController(device, profile, probe, logger, engine.WithGuard(guard))
//
// # Input document
//
// Policies see the plan and an evaluation context:
//
//	{
//	  "plan": {
//	    "family": "interface", "name": "Ethernet1", "identifier": "Ethernet1",
//	    "kind": "ethernet", "state": "configured", "phase": "configure",
//	    "check_mode": false, "commands": ["interface Ethernet1", "shutdown"]
//	  },
//	  "context": {"environment": "lab", "device": "10.0.0.1", "dry_run": false}
//	}
//
// Each policy package must define a deny set. Entries may be plain strings
// or objects with message, severity and command keys.
//
// # Built-in Policies
//
//  1. vlan1-protection - refuses "no interface Vlan1" and "default interface Vlan1"
//  2. production-safety - blocks remove and default phases in production
//  3. bulk-change - warns when a plan carries more than the bulk threshold
//
// # Custom Policies
//
//	package custom.policies.uplinks
//
//	import rego.v1
//
//	deny contains violation if {
//	    startswith(input.plan.identifier, "Ethernet49")
//	    some cmd in input.plan.commands
//	    cmd == "shutdown"
//	    violation := {"message": "uplinks may not be shut", "severity": "error"}
//	}
//
// Rego files load with severity error. JSON and YAML definitions can set
// name, description, rego, severity, enabled and tags explicitly.
//
// # Severity Levels
//
//   - info and warning violations are logged and the plan proceeds
//   - error and critical violations deny the plan with POLICY_DENIED
//
// # Hot Reload
//
// Engine.Watch reloads custom policies when files under the given paths
// change. Built-in policies are kept across reloads, and so are the choices
// made with EnablePolicy and DisablePolicy.
package policy
