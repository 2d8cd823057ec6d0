// Package worker runs inside a worker process: it attaches to its group's
// link, pulls one job at a time and runs it through the router pipeline.
//
// Ownership boundary:
// - worker identity and process environment contract
// - sequential job loop (ready -> job -> dispatch -> ready)
// - job-timeout watchdog that terminates the whole process
// - child signal handling
//
// Signals:
// - SIGINT is ignored; the supervisor's own shutdown covers it
// - SIGTERM and SIGHUP stop accepting jobs, finish the current one and exit
// - SIGQUIT exits immediately
package worker
