package internaldefs

import (
	"github.com/grantkit/grantkit"
)

// CounterDef binds an engine counter to its published name.
type CounterDef struct {
	ID   grantkit.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its published name.
type HistogramDef struct {
	ID   grantkit.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in publication order.
var CounterDefs = []CounterDef{
	{ID: grantkit.MetricAuthorizeAllow, Name: "grantkit_authorize_allow_total", Help: "Authorization decisions that ended in allow."},
	{ID: grantkit.MetricAuthorizeDeny, Name: "grantkit_authorize_deny_total", Help: "Authorization decisions that ended in explicit deny."},
	{ID: grantkit.MetricAuthorizeImplicitDeny, Name: "grantkit_authorize_implicit_deny_total", Help: "Authorization decisions denied because no grant matched."},
	{ID: grantkit.MetricAuthorizeError, Name: "grantkit_authorize_error_total", Help: "Authorization requests that failed with an error."},
	{ID: grantkit.MetricAuditPage, Name: "grantkit_audit_page_total", Help: "Audit pages served."},
	{ID: grantkit.MetricGrantCreate, Name: "grantkit_grant_create_total", Help: "Grants enacted."},
	{ID: grantkit.MetricGrantDelete, Name: "grantkit_grant_delete_total", Help: "Grants repealed."},
	{ID: grantkit.MetricLatchClaim, Name: "grantkit_latch_claim_total", Help: "Latch claims, including reclaims of expired leases."},
	{ID: grantkit.MetricLatchComplete, Name: "grantkit_latch_complete_total", Help: "Latches completed."},
	{ID: grantkit.MetricLatchFail, Name: "grantkit_latch_fail_total", Help: "Latches failed back to pending."},
}

// HistogramDefs lists every engine histogram in publication order.
var HistogramDefs = []HistogramDef{
	{ID: grantkit.MetricAuthorizeLatency, Name: "grantkit_authorize_latency_seconds", Help: "Authorize latency histogram."},
}

// HistogramBounds are the upper bucket bounds, in seconds, as Prometheus
// `le` label values. They must stay in sync with the engine's bucket layout.
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

// HistogramBoundSuffix mirrors HistogramBounds with characters legal in an
// OTel instrument name.
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
// eight-bucket layout.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form both
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
