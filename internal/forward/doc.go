// Package forward builds and caches the HTTP transports used to reach
// backends, separating the connect timeout from the response-header
// timeout, and provides the fixed-size buffer pool that bounds memory
// while streaming request and response bodies.
package forward
