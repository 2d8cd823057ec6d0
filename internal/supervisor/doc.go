// Package supervisor keeps each worker group at its configured number of live
// worker processes.
//
// Ownership boundary:
// - spawning worker processes and respawning them while enabled
// - shutdown protocol driven by signals (forceful, graceful, reload)
// - escalation timer that kills children left after a stop
//
// Signal mapping:
// - SIGINT, SIGQUIT: disable, send SIGQUIT to children, arm escalation
// - SIGTERM: disable, send SIGTERM to children, arm escalation
// - SIGHUP: send SIGHUP to children, stay enabled (rolling restart)
// - escalation expiry: SIGKILL to every child still alive
package supervisor
