// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry trace bootstrap for the connector.
package observability
