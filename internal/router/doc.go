// Package router owns command routing and the request lifecycle pipeline run
// inside a worker.
//
// Ownership boundary:
// - application and module route tables
// - lifecycle hooks and their fixed invocation order
// - request/response envelope handed to handlers
//
// Lookup order:
// - application table by full command
//
// - then each module in registration order, matching "<module>.<command>" or
// a purely numeric command regardless of module name
//
// Hook order per request:
// - before_first_request (once): app, then each module
//
// - before_request: app, each module (app-wide), matched module
//
// - handler
//
// - after_request: matched module, each module (app-wide), app
//
// Tables are built during startup and frozen by Validate; nothing is
// registered at runtime.
package router
