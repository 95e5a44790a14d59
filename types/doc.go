// Package types defines the shared domain model of the warm transfer
// service: calls, transfers, summaries, participant roles, and the unified
// error taxonomy used across all components.
package types
