// Package app wires a router and codec into a running boxrelay process.
//
// The same binary runs in two roles. The front-end process owns the TCP
// listener, the group queues and their sockets, the supervisor and the
// optional admin surface. Worker processes are re-executions of the same
// binary with the worker environment set; they attach to one group socket
// and serve jobs through the router.
package app
