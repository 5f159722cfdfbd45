// Package chitta provides Chitta, a persistent associative-memory
// engine for Go AI projects.
//
// Chitta is a 100% pure Go library designed as the long-term memory
// layer for agentic systems. Built on a custom memory-mapped, write-
// ahead-logged storage kernel (no SQLite, no CGO), it provides dense
// and sparse recall, Hebbian edge strengthening, spreading activation,
// attractor synthesis, realm-scoped visibility, provenance and
// contradiction tracking, and scheduled maintenance, all behind the
// single pkg/mind.Mind coordinator.
package chitta
