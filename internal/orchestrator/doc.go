// Package orchestrator accepts transcode requests, queues them in FIFO order,
// and runs them on a fixed pool of encoder slots.
//
// Each running job owns exactly one engine.Process. Output lines are parsed
// into progress updates, fatal markers, and diagnostics and written back to
// the job in the queue.Store. Every status transition is reported to the
// registered observers after the orchestrator has released its own locks.
package orchestrator
