package scheduler

import (
	"time"

	logx "reglament/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError warns at most once per job per throttle window; a full
// queue produces bursts.
func (s *Service) reportEnqueueError(id string, err error) {
	if err == nil {
		return
	}
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[id]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[id] = now
	s.enqMu.Unlock()
	s.log.Warn("job failed to enqueue", logx.String("job", id), logx.Err(err))
}
