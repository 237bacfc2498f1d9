// Package stores provides the SQLite run journal for netconverge.
// Every reconcile and show invocation is recorded as a run with its
// compiled commands, outcome and events, and the last record applied to
// each resource is kept for drift detection. Policy overrides set with
// "netconverge policy enable|disable" live here too.
package stores
