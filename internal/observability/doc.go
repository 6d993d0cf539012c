// Package observability builds the process logger and the Prometheus
// collectors for routing, quota and cost activity.
package observability
