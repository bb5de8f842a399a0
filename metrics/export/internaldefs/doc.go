// Package internaldefs exposes stable metric name and bucket definitions
// shared by the exporter implementations.
//
// Counter and histogram definitions live here so that the Prometheus and
// OTel exporters emit identical metric names and bucket boundaries. Changes
// to definitions in this package affect all exporters simultaneously.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
