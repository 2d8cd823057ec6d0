// Package ipc owns the front-end <-> worker link envelopes.
//
// Ownership boundary:
// - job and result messages
// - worker hello
// - ready/stop control frames and their acknowledgements
//
// Link exchange per worker:
// - hello once after dial
// - ready -> job -> result* (each acknowledged) -> ready ...
// - stop -> stop.ack, with any job already sent delivered first
package ipc
