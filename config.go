package authgate

import (
	"errors"
	"fmt"
	"time"

	"github.com/altinors/authgate/password"
)

// JWTConfig configures the dual-secret token codec. Access and refresh
// tokens are signed with separate secrets so one kind can never be
// presented as the other.
type JWTConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// SingleUseConfig sets lifetimes for password reset and email
// verification tokens.
type SingleUseConfig struct {
	ResetTTL        time.Duration
	VerificationTTL time.Duration
}

// AuditConfig controls the async audit pipeline.
type AuditConfig struct {
	Enabled bool
	// BufferSize is the dispatcher queue depth.
	BufferSize int
	// DropIfFull makes Emit non-blocking: events beyond the buffer are
	// counted and discarded instead of stalling auth operations.
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Config is the root engine configuration. Zero value is not usable;
// start from DefaultConfig and set the secrets.
type Config struct {
	JWT       JWTConfig
	Password  password.Config
	SingleUse SingleUseConfig
	Audit     AuditConfig
	Metrics   MetricsConfig

	// DefaultRole is assigned to accounts created through Register.
	DefaultRole string
}

// DefaultConfig returns production defaults: 15 minute access tokens,
// 7 day refresh tokens, 1 hour reset tokens, 24 hour verification
// tokens. Secrets are left empty and must be provided.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Leeway:     30 * time.Second,
		},
		Password: password.DefaultConfig(),
		SingleUse: SingleUseConfig{
			ResetTTL:        time.Hour,
			VerificationTTL: 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		DefaultRole: RoleUser,
	}
}

const minSecretBytes = 32

// Validate checks the configuration for values the engine cannot run
// with.
func (c Config) Validate() error {
	if len(c.JWT.AccessSecret) < minSecretBytes {
		return fmt.Errorf("config: access secret must be at least %d bytes", minSecretBytes)
	}
	if len(c.JWT.RefreshSecret) < minSecretBytes {
		return fmt.Errorf("config: refresh secret must be at least %d bytes", minSecretBytes)
	}
	if string(c.JWT.AccessSecret) == string(c.JWT.RefreshSecret) {
		return errors.New("config: access and refresh secrets must differ")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("config: token TTLs must be positive")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("config: refresh TTL must exceed access TTL")
	}
	if c.SingleUse.ResetTTL <= 0 || c.SingleUse.VerificationTTL <= 0 {
		return errors.New("config: single-use token TTLs must be positive")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("config: audit buffer size must be positive")
	}
	if !ValidRole(c.DefaultRole) {
		return fmt.Errorf("config: unknown default role %q", c.DefaultRole)
	}
	return nil
}
