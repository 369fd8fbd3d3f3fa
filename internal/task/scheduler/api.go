package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"reglament/internal/occurrence"
	"reglament/internal/task/engine"
	logx "reglament/pkg/logx"
)

// Upsert registers run under id, replacing any previous registration with the
// same id. A recurring trigger must be an expression occurrence.Parse accepts;
// its From bound holds back every match before it.
func (s *Service) Upsert(id string, trig occurrence.Trigger, run func(ctx context.Context) error) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("job id required")
	}
	if run == nil {
		return errors.New("job func required")
	}
	j := &job{id: id, trigger: trig, run: run}
	if trig.IsOnce() {
		if trig.At.IsZero() {
			return errors.New("one-shot job needs an instant")
		}
	} else {
		sched, err := occurrence.Parse(trig.Expr)
		if err != nil {
			return err
		}
		j.sched = occurrence.NotBefore(sched, trig.From)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.jobs[id]; old != nil {
		s.disarmLocked(old)
	}
	s.ver++
	j.ver = s.ver
	s.jobs[id] = j
	s.armLocked(j)
	s.log.Debug("job upserted", logx.String("job", id), logx.String("trigger", trig.String()))
	return nil
}

// Remove unregisters id. It reports whether a job was registered.
func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	if j == nil {
		return false
	}
	s.disarmLocked(j)
	delete(s.jobs, id)
	s.log.Debug("job removed", logx.String("job", id))
	return true
}

func (s *Service) armLocked(j *job) {
	if s.c == nil {
		return
	}
	id, ver := j.id, j.ver
	if j.sched != nil {
		j.entryID = s.c.Schedule(j.sched, cron.FuncJob(func() { s.fire(id, ver) }))
		return
	}
	delay := time.Until(j.trigger.At)
	if delay < 0 {
		delay = 0
	}
	j.timer = time.AfterFunc(delay, func() { s.fire(id, ver) })
}

func (s *Service) disarmLocked(j *job) {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	if j.entryID != 0 && s.c != nil {
		s.c.Remove(j.entryID)
	}
	j.entryID = 0
}

// fire runs on a cron or timer goroutine. A stale version means the job was
// replaced or removed after the trigger was armed.
func (s *Service) fire(id string, ver uint64) {
	s.mu.Lock()
	j := s.jobs[id]
	if j == nil || j.ver != ver {
		s.mu.Unlock()
		return
	}
	if j.sched == nil {
		j.timer = nil
		delete(s.jobs, id)
	}
	run := j.run
	s.mu.Unlock()

	err := s.eng.Enqueue(engine.Task{Name: id, Timeout: s.cfg.JobTimeout, Run: run})
	s.reportEnqueueError(id, err)
}
