// Package resource defines the configurable surface of the device resources
// netconverge manages: interfaces and their layer-2 switchport settings.
//
// A Record is a fixed-schema set of attributes. Every attribute except name is
// nullable; a nil value means the caller expressed no opinion about it, which
// is different from asking for an empty value.
//
// The package also classifies resource identifiers into kinds (ethernet, svi,
// loopback, port-channel) so the lifecycle controller can decide whether a
// missing resource may be created or must already exist.
package resource
