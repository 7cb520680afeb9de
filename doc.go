// Package authgate implements credential and session lifecycle
// management for user-facing services: registration and login with
// argon2id password hashing, JWT access tokens, rotating refresh
// tokens with replay detection, single-use password reset and email
// verification tokens, and an asynchronous audit event pipeline.
//
// The package is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (Profile, TokenPair, AuditEvent, and so
// on). Token state lives in Redis; durable account and audit records
// live behind the [UserStore] and [AuditStore] interfaces, with a
// PostgreSQL implementation under store/postgres.
//
// Engine methods are safe for concurrent use after construction
// through [Builder.Build].
//
// # Hot path
//
// Validate checks the token signature and expiry locally, then
// re-reads the account so deactivation and deletion take effect
// immediately. Refresh, Login, and the token flows each spend a Redis
// round-trip on top of that.
package authgate
