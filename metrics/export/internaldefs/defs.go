// Package internaldefs holds the shared metric name tables for the
// exporters. Not part of the public API.
package internaldefs

import (
	authgate "github.com/altinors/authgate"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authgate.MetricRegisterSuccess, Name: "authgate_register_success_total", Help: "Successful account registrations."},
	{ID: authgate.MetricRegisterConflict, Name: "authgate_register_conflict_total", Help: "Registrations rejected for duplicate email."},
	{ID: authgate.MetricLoginSuccess, Name: "authgate_login_success_total", Help: "Successful login attempts."},
	{ID: authgate.MetricLoginFailure, Name: "authgate_login_failure_total", Help: "Failed login attempts."},
	{ID: authgate.MetricRefreshSuccess, Name: "authgate_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: authgate.MetricRefreshFailure, Name: "authgate_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: authgate.MetricRefreshReplayDetected, Name: "authgate_refresh_replay_detected_total", Help: "Refresh tokens presented after rotation or revocation."},
	{ID: authgate.MetricLogout, Name: "authgate_logout_total", Help: "Single-session logout operations."},
	{ID: authgate.MetricLogoutAll, Name: "authgate_logout_all_total", Help: "Logout-all operations."},
	{ID: authgate.MetricPasswordResetRequest, Name: "authgate_password_reset_request_total", Help: "Password reset requests."},
	{ID: authgate.MetricPasswordResetConfirmSuccess, Name: "authgate_password_reset_confirm_success_total", Help: "Successful password reset confirmations."},
	{ID: authgate.MetricPasswordResetConfirmFailure, Name: "authgate_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: authgate.MetricEmailVerificationRequest, Name: "authgate_email_verification_request_total", Help: "Email verification requests."},
	{ID: authgate.MetricEmailVerificationSuccess, Name: "authgate_email_verification_success_total", Help: "Successful email verifications."},
	{ID: authgate.MetricEmailVerificationFailure, Name: "authgate_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: authgate.MetricPasswordChangeSuccess, Name: "authgate_password_change_success_total", Help: "Successful password changes."},
	{ID: authgate.MetricPasswordChangeInvalidCurrent, Name: "authgate_password_change_invalid_current_total", Help: "Password change attempts with wrong current password."},
	{ID: authgate.MetricSessionCreated, Name: "authgate_session_created_total", Help: "Created sessions."},
	{ID: authgate.MetricSessionInvalidated, Name: "authgate_session_invalidated_total", Help: "Invalidated sessions."},
	{ID: authgate.MetricAccountDisabled, Name: "authgate_account_disabled_total", Help: "Account disable operations."},
	{ID: authgate.MetricAccountDeleted, Name: "authgate_account_deleted_total", Help: "Account delete operations."},
}

var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricValidateLatency, Name: "authgate_validate_latency_seconds", Help: "Validate latency histogram."},
}

var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form
// Prometheus histograms use.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
