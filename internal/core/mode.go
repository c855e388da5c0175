// Package core is the orchestration layer.  It composes transports,
// sessions and the registry into complete operational modes and
// provides a builder that selects the right mode from a Config.
//
// Architecture layers (bottom → top):
//
//	message  →  wire/transport  →  registry/session  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of chatd (serve or
// connect).  Each mode owns its full lifecycle from startup to
// teardown.
type Mode interface {
	Run(ctx context.Context) error
}
