// Package server holds the process-wide ServerContext shared by the HTTP
// API and the MCP tools, the Kubernetes health endpoints and the dedicated
// Prometheus metrics listener.
//
// Readiness is the conjunction of the ready flag, the shutdown state and
// every check registered with HealthChecker.AddCheck (the database ping in
// a standard deployment).
package server
