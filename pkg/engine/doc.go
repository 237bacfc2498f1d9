// Package engine implements the reconcile core of netconverge.
//
// # Overview
//
// A reconcile converges one device resource to a declared lifecycle state
// in a single synchronous cycle:
//
//  1. Read - the Profile reads the current record, or reports it absent
//  2. Create - creatable resources that are absent are instantiated
//  3. Diff - Diff compares desired and current field by field
//  4. Compile - Compile maps the changeset onto the family CommandTable
//  5. Apply - the Device applies the full sequence in one call
//  6. Report - the resource is read again and returned in a Result
//
// # Lifecycle states
//
//   - configured: converge attributes, creating virtual resources if needed
//   - unconfigured: remove the resource, or default it when it cannot be removed
//   - default: reset the resource to factory default unless the DefaultProbe
//     says it already is
//
// # Null policy
//
// A null desired attribute means "leave it alone" unless the request sets
// NullAsDefault, in which case the attribute's default command is emitted
// whenever the current value is not null.
//
// # Collaborators
//
// The engine never opens connections. Device, Profile, DefaultProbe and
// CommandGuard are supplied by the caller:
//
//	device := eos.NewDevice(sshClient, logger)
//	controller := engine.NewController(device,
//	    eos.NewInterfaceProfile(device),
//	    eos.NewRunningConfigProbe(device),
//	    logger,
//	    engine.WithGuard(guard),
//	)
//	result, err := controller.Reconcile(ctx, &engine.Request{Name: "Ethernet1"})
//
// Errors raised by the engine itself are *EngineError values classified as
// transient, conflict or permanent. Device and transport errors propagate
// unchanged.
package engine
