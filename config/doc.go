// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the application configuration structure
// including server settings, backend descriptors, route descriptors, resolver
// TTLs, and proxy timeouts.
package config
