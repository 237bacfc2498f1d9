// Package config loads the netconverge configuration file and
// desired-state files.
//
// The configuration is YAML decoded over Default, with environment
// variables expanded and unknown keys rejected:
//
//	device:
//	  host: leaf1.example.net
//	  user: admin
//	  password: ${LEAF_PASSWORD}
//	  command_timeout: 90s
//	journal:
//	  path: /var/lib/netconverge/journal.db
//	  retention: 720h
//	policy:
//	  environment: production
//	  paths: [/etc/netconverge/policies]
//	backup:
//	  directory: /var/backups/netconverge
//	telemetry:
//	  logging:
//	    level: debug
//
// Validation uses the validator shared with pkg/resource. A desired-state
// file names one resource and converts into an engine.Request.
package config
