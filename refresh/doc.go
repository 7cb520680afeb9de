// Package refresh persists the outstanding refresh-token records of the
// engine in Redis and implements atomic rotation: a presented token is
// valid for exactly one rotation, enforced server-side with a Lua script.
package refresh
