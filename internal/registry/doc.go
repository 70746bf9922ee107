// Package registry holds the static set of known backends loaded from
// configuration. It maps backend names to their network identity and is
// read-only once the process has started.
package registry
