// Package frontend owns client connections and the bridge to worker groups.
//
// Ownership boundary:
// - single-goroutine Loop that serializes all connection state changes
// - connection table (id allocation, live registry)
// - Conn state machine: open -> closing -> closed
// - Bridge: frame extraction, group routing, job enqueue, result drain
// - Server: accept loop plus per-connection reader and writer goroutines
//
// Cross-goroutine handoff happens only through Loop.Post. Readers post
// chunks, writers post completions, and each group drain posts results.
package frontend
