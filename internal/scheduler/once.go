package scheduler

import (
	"errors"
	"fmt"
	"time"

	"context"
)

// AddOnce schedules job to run once at the absolute time at. Scheduling
// again under the same name replaces the previous timer (upsert), so
// re-registering after a restart or a date change cannot double-fire.
// A deadline already in the past fires immediately through the worker pool,
// never silently.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if name == "" {
		return "", errors.New("name required")
	}
	if at.IsZero() {
		return "", errors.New("at required")
	}
	if job == nil {
		return "", errors.New("job required")
	}

	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	if loc == nil {
		loc = time.Local
	}
	runAt := at.In(loc)
	resolved := s.resolveTimeout(timeout)

	s.tmu.Lock()
	if t, ok := s.timers[name]; ok {
		_ = t.Stop()
		delete(s.timers, name)
	}
	ver := s.onceVer[name] + 1
	s.onceVer[name] = ver

	s.onceAt[name] = runAt
	s.onceJob[name] = job

	delay := time.Until(runAt)
	if delay < 0 {
		delay = 0
	}
	localName := name
	localVer := ver
	timer := time.AfterFunc(delay, func() {
		// If the task was removed or replaced, ignore this callback.
		s.tmu.Lock()
		if s.onceVer[localName] != localVer {
			s.tmu.Unlock()
			return
		}
		jobNow := s.onceJob[localName]
		delete(s.timers, localName)
		delete(s.onceAt, localName)
		delete(s.onceJob, localName)
		s.tmu.Unlock()
		if jobNow == nil {
			return
		}

		s.enqueue(task{
			id:      fmt.Sprintf("once:%d", time.Now().UnixNano()),
			name:    localName,
			timeout: resolved,
			run:     jobNow,
		})
	})
	s.timers[localName] = timer
	s.tmu.Unlock()

	return name, nil
}

// OncePending reports whether a one-shot timer is registered under name and
// its fire time.
func (s *Service) OncePending(name string) (time.Time, bool) {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	at, ok := s.onceAt[name]
	return at, ok
}
