// Package password provides the default argon2id password hasher.
package password
