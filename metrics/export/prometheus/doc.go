// Package prometheus renders engine metrics in the Prometheus text
// exposition format without depending on the Prometheus client library.
//
// The exporter is pull-only: Render (or the Handler wrapping it) takes a
// metrics snapshot at scrape time. Counter and histogram names come from
// the shared internaldefs tables, so they match the OTel exporter exactly.
package prometheus
