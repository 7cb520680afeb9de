package authgate

import (
	"testing"
	"time"
)

func TestSecurityReport(t *testing.T) {
	te := buildTestEngine(t)

	report := te.engine.SecurityReport()
	if report.SigningAlgorithm != "HS256" {
		t.Fatalf("unexpected algorithm %q", report.SigningAlgorithm)
	}
	if report.AccessTTL != 15*time.Minute || report.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected TTLs: %+v", report)
	}
	if !report.RefreshRotationEnabled || !report.LoginEnumerationBlinded {
		t.Fatal("expected rotation and enumeration blinding to be reported")
	}
	if !report.AuditEnabled || !report.MetricsEnabled {
		t.Fatal("expected default audit and metrics posture")
	}
	if report.Argon2.Memory == 0 || report.Argon2.KeyLength == 0 {
		t.Fatalf("expected argon2 parameters in report, got %+v", report.Argon2)
	}

	var nilEngine *Engine
	if got := nilEngine.SecurityReport(); got != (SecurityReport{}) {
		t.Fatalf("expected zero report from nil engine, got %+v", got)
	}
}
