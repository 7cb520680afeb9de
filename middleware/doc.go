// Package middleware provides net/http middleware for the engine:
// bearer token authentication with role enforcement, request context
// propagation, and per-request audit capture.
package middleware
