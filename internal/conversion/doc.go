// Package conversion drives a playlist through resolution, transcoding,
// storage and manifest writing, one job at a time.
//
// A job moves Idle -> Resolving -> ItemLoop -> Finalizing -> Terminated.
// Items are processed strictly in playlist order on a single worker
// goroutine, which is also the only writer of the queue. Observers attach
// through Subscribe and receive queue-ready, item-updated, queue-updated and
// exactly one job-finished event per job.
package conversion
