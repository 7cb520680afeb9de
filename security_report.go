package authgate

import "time"

// SecurityReport is a static summary of the engine's security posture,
// intended for startup logs and operational review.
type SecurityReport struct {
	SigningAlgorithm        string
	AccessTTL               time.Duration
	RefreshTTL              time.Duration
	ResetTokenTTL           time.Duration
	VerificationTokenTTL    time.Duration
	Argon2                  PasswordConfigReport
	RefreshRotationEnabled  bool
	AuditEnabled            bool
	AuditDropIfFull         bool
	MetricsEnabled          bool
	LoginEnumerationBlinded bool
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		SigningAlgorithm:     "HS256",
		AccessTTL:            e.config.JWT.AccessTTL,
		RefreshTTL:           e.config.JWT.RefreshTTL,
		ResetTokenTTL:        e.config.SingleUse.ResetTTL,
		VerificationTokenTTL: e.config.SingleUse.VerificationTTL,
		Argon2: PasswordConfigReport{
			Memory:      e.config.Password.Memory,
			Time:        e.config.Password.Time,
			Parallelism: e.config.Password.Parallelism,
			SaltLength:  e.config.Password.SaltLength,
			KeyLength:   e.config.Password.KeyLength,
		},
		RefreshRotationEnabled:  true,
		AuditEnabled:            e.config.Audit.Enabled,
		AuditDropIfFull:         e.config.Audit.DropIfFull,
		MetricsEnabled:          e.config.Metrics.Enabled,
		LoginEnumerationBlinded: true,
	}
}
