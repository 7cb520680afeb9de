// Package jwt implements the token codec: minting and verification of
// signed access and refresh tokens with independent secrets and lifetimes.
package jwt
