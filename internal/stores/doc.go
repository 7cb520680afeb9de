// Package stores provides the Redis-backed single-use token store shared
// by the password-reset and email-verification flows.
//
// Records are keyed by token hash, carry an explicit purpose tag, and are
// consumed atomically: the consumed flag is one-way, and a consumed or
// expired record can never be redeemed again. Expiry is enforced at read
// time; Redis TTLs reap records after their validity window.
package stores
