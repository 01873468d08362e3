package internaldefs

import (
	"github.com/MrEthical07/authkit"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   authkit.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: authkit.MetricAuthSuccess, Name: "authkit_auth_success_total", Help: "Requests resolved to a principal."},
	{ID: authkit.MetricAuthRejected, Name: "authkit_auth_rejected_total", Help: "Requests rejected by an access requirement."},
	{ID: authkit.MetricAuthAnonymous, Name: "authkit_auth_anonymous_total", Help: "Optional requests served without a principal."},
	{ID: authkit.MetricAuthBackendError, Name: "authkit_auth_backend_error_total", Help: "Backend failures during request authentication."},
	{ID: authkit.MetricLoginSuccess, Name: "authkit_login_success_total", Help: "Successful logins."},
	{ID: authkit.MetricLoginFailure, Name: "authkit_login_failure_total", Help: "Failed logins."},
	{ID: authkit.MetricLogout, Name: "authkit_logout_total", Help: "Single-token logouts."},
	{ID: authkit.MetricLogoutAll, Name: "authkit_logout_all_total", Help: "Logout-all operations."},
	{ID: authkit.MetricRenewSuccess, Name: "authkit_renew_success_total", Help: "Successful token renewals."},
	{ID: authkit.MetricRenewFailure, Name: "authkit_renew_failure_total", Help: "Rejected token renewals."},
	{ID: authkit.MetricOTPSent, Name: "authkit_otp_sent_total", Help: "One-time codes delivered."},
	{ID: authkit.MetricOTPValidated, Name: "authkit_otp_validated_total", Help: "One-time codes accepted."},
	{ID: authkit.MetricOTPFailed, Name: "authkit_otp_failed_total", Help: "One-time codes rejected."},
	{ID: authkit.MetricOAuthStateRejected, Name: "authkit_oauth_state_rejected_total", Help: "OAuth callbacks rejected for a bad state."},
	{ID: authkit.MetricOAuthLogin, Name: "authkit_oauth_login_total", Help: "Logins completed through an OAuth provider."},
}

// HistogramDefs lists every histogram.
var HistogramDefs = []HistogramDef{
	{ID: authkit.MetricDecisionLatency, Name: "authkit_decision_latency_seconds", Help: "Time spent deciding on a request."},
}

// AuditDroppedName is the counter for audit events lost to a full buffer.
const (
	AuditDroppedName = "authkit_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the audit queue was full."
)

// HistogramBounds are the upper bucket bounds in seconds, as exposition labels.
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

// HistogramBoundValues matches HistogramBounds without the +Inf bucket.
var HistogramBoundValues = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix is used where a bound must appear in a metric name.
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

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
