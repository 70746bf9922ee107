// Package resolver turns backend names into network addresses at request
// time. It caches per-backend resolutions with a TTL, serves stale
// addresses while refreshing them in the background, and coalesces
// concurrent lookups of the same backend into a single in-flight call.
package resolver
