// Package codec owns the frame codec contract consumed by the serving runtime.
//
// Ownership boundary:
// - incremental check classification
// - frame decode/encode capability
// - reserved result codes for synthesized responses
//
// Concrete codecs live in subpackages and are interchangeable without touching
// the framer, bridge or worker.
package codec
