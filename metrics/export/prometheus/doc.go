// Package prometheus renders vikauth metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] accepts a [vikauth.Engine] and exposes an
// http.Handler that renders all counters and histograms. Counter names are
// prefixed vikauth_*_total; the single histogram is
// vikauth_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the
//     Handler.
//   - Mutate engine state.
package prometheus
