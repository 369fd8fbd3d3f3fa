// Package scheduler registers jobs by id and triggers them: recurring jobs
// through robfig/cron, single-instant jobs through timers.
//
// The scheduler is trigger-only. A fired job is enqueued into the task
// engine, which owns timeouts, retries and panic capture. Registrations are
// in-memory; the app re-registers them from the ledger on startup.
package scheduler
