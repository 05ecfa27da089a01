package scheduler

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"postbot/internal/errors"
	logx "postbot/pkg/logx"
)

var (
	ErrStopped  = errors.New("scheduler stopped")
	ErrNoAction = errors.New("action required")
)

// ArmOnce schedules action(id) at at. An existing entry for id is cancelled
// first. A past instant fires immediately.
func (s *Service) ArmOnce(id string, at time.Time, action Action) error {
	if err := checkArm(id, action); err != nil {
		return err
	}
	if at.IsZero() {
		return errors.Newf("arm %s: fire time required", id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.removeLocked(id)

	s.seq++
	e := &entry{id: id, kind: kindOnce, at: at.In(s.loc), action: action, ver: s.seq, armedAt: time.Now()}
	ver := e.ver
	e.timer = time.AfterFunc(max(time.Until(at), 0), func() { s.fireOnce(id, ver) })
	s.entries[id] = e
	s.log.Debug("armed once", logx.String("id", id), logx.Time("at", e.at))
	return nil
}

// fireOnce drops the entry before running so Has reports false once fired.
// A replaced or disarmed entry carries a different version and is ignored.
func (s *Service) fireOnce(id string, ver uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.ver != ver || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.entries, id)
	action := e.action
	s.mu.Unlock()

	s.run(id, action)
}

// ArmRecurring registers expr (five fields, day-of-week Monday=0) for id,
// replacing any existing entry.
func (s *Service) ArmRecurring(id, expr string, action Action) error {
	if err := checkArm(id, action); err != nil {
		return err
	}
	spec, err := ToCronSpec(expr)
	if err != nil {
		return err
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return errors.Wrapf(ErrBadSchedule, "parse %q: %v", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.removeLocked(id)

	s.seq++
	e := &entry{id: id, kind: kindCron, spec: expr, action: action, ver: s.seq, armedAt: time.Now()}
	ver := e.ver
	e.cronID = s.c.Schedule(sched, cron.FuncJob(func() { s.fireCron(id, ver) }))
	s.entries[id] = e
	s.log.Debug("armed recurring", logx.String("id", id), logx.String("spec", expr), logx.String("cron", spec),
		logx.Time("next", sched.Next(time.Now().In(s.loc))))
	return nil
}

func (s *Service) fireCron(id string, ver uint64) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.ver != ver {
		s.mu.Unlock()
		return
	}
	action := e.action
	s.mu.Unlock()

	s.run(id, action)
}

// run isolates a firing: a panicking action is logged and swallowed.
func (s *Service) run(id string, action Action) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("trigger action panicked", logx.String("id", id), logx.Any("panic", r))
		}
	}()
	action(id)
}

// Disarm cancels the entry for id and reports whether one existed.
func (s *Service) Disarm(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Service) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Next reports the next firing of id.
func (s *Service) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return s.nextLocked(e), true
}

func (s *Service) nextLocked(e *entry) time.Time {
	if e.kind == kindOnce {
		return e.at
	}
	if s.started {
		if next := s.c.Entry(e.cronID).Next; !next.IsZero() {
			return next
		}
	}
	// Not started yet: compute from the spec.
	spec, err := ToCronSpec(e.spec)
	if err != nil {
		return time.Time{}
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now().In(s.loc))
}

func (s *Service) removeLocked(id string) bool {
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.cronID != 0 {
		s.c.Remove(e.cronID)
	}
	delete(s.entries, id)
	return true
}

func checkArm(id string, action Action) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("arm: id required")
	}
	if action == nil {
		return ErrNoAction
	}
	return nil
}
