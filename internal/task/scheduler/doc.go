// Package scheduler registers recurring interval jobs on a shared cron runner.
//
// Every registration runs in its own goroutine when it fires, is wrapped with
// panic recovery, and skips a run while the previous one is still in flight.
// Registrations made before Start are kept and attached when the runner starts.
package scheduler
