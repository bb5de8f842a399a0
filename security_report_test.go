package vikauth

import (
	"testing"
	"time"
)

func TestSecurityReportMirrorsConfig(t *testing.T) {
	env := newTestEnv(t, newMockProvider(guestAccount(t)), func(cfg *Config) {
		cfg.Token.AccessTTL = 10 * time.Minute
		cfg.Token.RefreshTTL = 14 * 24 * time.Hour
		cfg.RateLimits.EnableIPThrottle = true
		cfg.PasswordReset.Strategy = ResetOTP
		cfg.Security.NotifyOnNewDevice = true
	})

	report := env.engine.SecurityReport()

	if report.SigningAlgorithm != "ed25519" {
		t.Fatalf("SigningAlgorithm = %q, want ed25519", report.SigningAlgorithm)
	}
	if report.AccessTTL != 10*time.Minute || report.RefreshTTL != 14*24*time.Hour {
		t.Fatalf("unexpected TTLs: access %v refresh %v", report.AccessTTL, report.RefreshTTL)
	}
	if report.Argon2.Memory != 8*1024 || report.Argon2.Time != 1 || report.Argon2.KeyLength != 16 {
		t.Fatalf("unexpected argon2 report: %+v", report.Argon2)
	}
	if report.PolicyMinLength == 0 || report.HistoryDepth == 0 {
		t.Fatalf("expected policy fields populated, got %+v", report)
	}
	if !report.RateLimitingActive || !report.IPThrottleActive {
		t.Fatalf("expected rate limiting flags set, got %+v", report)
	}
	if !report.PasswordResetActive || report.ResetStrategy != ResetOTP {
		t.Fatalf("unexpected reset posture: %+v", report)
	}
	if !report.NewDeviceNotify {
		t.Fatal("expected NewDeviceNotify set")
	}
	if report.AuditActive {
		t.Fatal("audit is disabled in the test config")
	}
}

func TestSecurityReportNilEngine(t *testing.T) {
	var e *Engine
	if report := e.SecurityReport(); report != (SecurityReport{}) {
		t.Fatalf("expected zero report from nil engine, got %+v", report)
	}
}
