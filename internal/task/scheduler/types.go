package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"reglament/internal/occurrence"
	"reglament/internal/task/engine"
	logx "reglament/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	// JobTimeout bounds one run of a fired job; 0 uses the engine default.
	JobTimeout time.Duration
}

// Enqueuer is the part of the task engine the scheduler needs.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	eng Enqueuer

	c    *cron.Cron // nil until Start
	jobs map[string]*job
	ver  uint64

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type job struct {
	id      string
	trigger occurrence.Trigger
	sched   cron.Schedule // nil for one-shot jobs
	run     func(ctx context.Context) error
	ver     uint64

	entryID cron.EntryID
	timer   *time.Timer
}

type JobInfo struct {
	ID      string    `json:"id"`
	Trigger string    `json:"trigger"`
	Next    time.Time `json:"next,omitempty"`
	Prev    time.Time `json:"prev,omitempty"`
}

type Snapshot struct {
	Running bool      `json:"running"`
	Jobs    []JobInfo `json:"jobs"`
}
