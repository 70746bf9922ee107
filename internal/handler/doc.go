// Package handler implements the request dispatcher for the reverse proxy.
// It matches inbound paths against the route table and serves the winning
// rule: proxying with request-time address resolution, redirecting with the
// path suffix preserved, or serving local files.
package handler
