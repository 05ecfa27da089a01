// Package scheduler holds at most one armed trigger per job id: a one-time
// timer for one-shot jobs or a robfig/cron entry for recurring ones.
//
// The scheduler never runs deliveries itself. A firing calls the job's Action
// on the scheduler's goroutine; callers hand the work off to the task engine.
// Arming an id that already has an entry replaces it, so an id never fires twice
// for the same instant.
package scheduler
