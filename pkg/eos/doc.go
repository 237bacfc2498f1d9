// Package eos binds the reconcile engine to the Arista EOS CLI.
//
// Device implements engine.Device over an SSH transport, InterfaceProfile
// and SwitchportProfile implement engine.Profile for the two resource
// families, and RunningConfigProbe implements engine.DefaultProbe.
package eos
