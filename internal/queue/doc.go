// Package queue owns the per-group job/result queues and the local socket
// link that carries them between the front end and worker processes.
//
// Ownership boundary:
// - bounded inbound (job) and outbound (result) FIFOs per worker group
// - broker hosting one unix socket per group in the front-end process
// - worker-side Link that pulls jobs and pushes results
//
// Flow control:
// - a full inbound queue blocks Group.Enqueue
// - a full outbound queue blocks the broker before it acknowledges a result,
// which blocks the worker's push
//
// Delivery is at-most-once: a job taken by a worker that dies is lost.
package queue
