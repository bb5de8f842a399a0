package internaldefs

import (
	vikauth "github.com/armanmishra1000/AirvikBook-sub000"
)

// CounterDef binds a core metric ID to its stable wire name.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   vikauth.MetricID
	Name string
	Help string
}

// HistogramDef binds a core histogram ID to its stable wire name.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   vikauth.MetricID
	Name string
	Help string
}

// CounterDefs is the shared counter definition table for all exporters.
var CounterDefs = []CounterDef{
	{ID: vikauth.MetricLoginSuccess, Name: "vikauth_login_success_total", Help: "Successful password logins."},
	{ID: vikauth.MetricLoginFailure, Name: "vikauth_login_failure_total", Help: "Failed password logins."},
	{ID: vikauth.MetricLoginRateLimited, Name: "vikauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: vikauth.MetricFederatedLoginSuccess, Name: "vikauth_federated_login_success_total", Help: "Successful federated logins."},
	{ID: vikauth.MetricFederatedLoginFailure, Name: "vikauth_federated_login_failure_total", Help: "Failed federated logins."},
	{ID: vikauth.MetricRefreshSuccess, Name: "vikauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: vikauth.MetricRefreshFailure, Name: "vikauth_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: vikauth.MetricRefreshReuseDetected, Name: "vikauth_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: vikauth.MetricRefreshRateLimited, Name: "vikauth_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: vikauth.MetricValidateSuccess, Name: "vikauth_validate_success_total", Help: "Successful access-token validations."},
	{ID: vikauth.MetricValidateFailure, Name: "vikauth_validate_failure_total", Help: "Failed access-token validations."},
	{ID: vikauth.MetricSessionCreated, Name: "vikauth_session_created_total", Help: "Created sessions."},
	{ID: vikauth.MetricSessionRevoked, Name: "vikauth_session_revoked_total", Help: "Revoked sessions."},
	{ID: vikauth.MetricLogout, Name: "vikauth_logout_total", Help: "Single-session logout operations."},
	{ID: vikauth.MetricLogoutAll, Name: "vikauth_logout_all_total", Help: "Logout-all operations."},
	{ID: vikauth.MetricPasswordChangeSuccess, Name: "vikauth_password_change_success_total", Help: "Successful password changes."},
	{ID: vikauth.MetricPasswordChangeInvalidOld, Name: "vikauth_password_change_invalid_old_total", Help: "Password changes rejected for a wrong current password."},
	{ID: vikauth.MetricPasswordChangeRejected, Name: "vikauth_password_change_rejected_total", Help: "Password changes rejected by policy or reuse checks."},
	{ID: vikauth.MetricPasswordSet, Name: "vikauth_password_set_total", Help: "Password credentials added to federated accounts."},
	{ID: vikauth.MetricPasswordRemoved, Name: "vikauth_password_removed_total", Help: "Password credentials removed from mixed accounts."},
	{ID: vikauth.MetricPasswordResetRequest, Name: "vikauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: vikauth.MetricPasswordResetConfirmSuccess, Name: "vikauth_password_reset_confirm_success_total", Help: "Successful password reset confirmations."},
	{ID: vikauth.MetricPasswordResetConfirmFailure, Name: "vikauth_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: vikauth.MetricPasswordResetAttemptsExceeded, Name: "vikauth_password_reset_attempts_exceeded_total", Help: "Reset challenges invalidated due to attempt cap."},
	{ID: vikauth.MetricRateLimitHit, Name: "vikauth_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: vikauth.MetricNotifyFailure, Name: "vikauth_notify_failure_total", Help: "Security notifications that failed to deliver."},
}

// HistogramDefs is the shared histogram definition table for all exporters.
var HistogramDefs = []HistogramDef{
	{ID: vikauth.MetricValidateLatency, Name: "vikauth_validate_latency_seconds", Help: "Access-token validation latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds, Prometheus form.
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

// HistogramBoundSuffix mirrors HistogramBounds with OTel-safe name suffixes.
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

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form both
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
