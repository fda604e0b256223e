// Package core is the orchestration layer.  It composes the chat engine,
// transports and the SSH gateway into complete operational modes and
// provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	transport, tunnel  →  chat  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operational mode of chatd (serve or connect).
// Each mode owns its full lifecycle from startup to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
