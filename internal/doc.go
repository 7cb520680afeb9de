// Package internal holds token generation and hashing helpers shared by
// the engine and its stores.
package internal
