package posting

import (
	"context"
	"strings"
	"time"

	"postbot/internal/errors"
	"postbot/internal/eventbus"
	"postbot/internal/jobs"
	"postbot/internal/recurrence"
	"postbot/internal/transport"
	logx "postbot/pkg/logx"
)

type Service struct {
	store  *jobs.Store
	sched  Scheduler
	runner Runner
	sender transport.Sender
	dlog   DeliveryLog
	bus    eventbus.Bus
	log    logx.Logger
	loc    *time.Location

	now   func() time.Time
	fatal func(error)
	tel   telemetry
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithFatalHandler receives ErrInconsistent failures after they are logged.
func WithFatalHandler(fn func(error)) Option { return func(s *Service) { s.fatal = fn } }

func New(d Deps, opts ...Option) *Service {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		store:  d.Store,
		sched:  d.Scheduler,
		runner: d.Runner,
		sender: d.Sender,
		dlog:   d.Deliveries,
		bus:    d.Bus,
		log:    log.With(logx.String("comp", "posting")),
		loc:    loc,
		now:    time.Now,
		tel:    newTelemetry(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Location() *time.Location { return s.loc }

// Store exposes the job table for read-side callers.
func (s *Service) Store() *jobs.Store { return s.store }

// ParseFireAt reads a TimestampLayout value in the service location.
func (s *Service) ParseFireAt(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.Wrap(ErrMissingField, "datetime")
	}
	t, err := time.ParseInLocation(TimestampLayout, v, s.loc)
	if err != nil {
		return time.Time{}, errors.WithHint(errors.Wrapf(ErrInvalidTimestamp, "%q", v),
			"use YYYY-MM-DD HH:MM, e.g. 2026-05-01 08:30")
	}
	return t, nil
}

func required(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return errors.Wrap(ErrMissingField, name)
	}
	return nil
}

// destination picks the explicit destination or the owner's bound one and
// validates it.
func destination(tx *jobs.Tx, owner, explicit string) (string, error) {
	dest := strings.TrimSpace(explicit)
	if dest == "" {
		bound, ok := tx.Channel(owner)
		if !ok {
			return "", errors.WithHint(errors.Wrap(ErrMissingField, "channel_id"), "connect a channel first or pass channel_id")
		}
		dest = bound
	}
	if _, err := transport.ParseTarget(dest); err != nil {
		return "", err
	}
	return dest, nil
}

// ScheduleOneShot stores a one-shot job and arms it. A fire time already in
// the past is stored but not armed; listings show it as missed.
func (s *Service) ScheduleOneShot(ctx context.Context, req OneShotRequest) (jobs.OneShot, error) {
	if err := required("user_id", req.OwnerID); err != nil {
		return jobs.OneShot{}, err
	}
	if err := required("content", req.Content); err != nil {
		return jobs.OneShot{}, err
	}
	fireAt, err := s.ParseFireAt(req.FireAt)
	if err != nil {
		return jobs.OneShot{}, err
	}

	var job jobs.OneShot
	err = s.store.Update(ctx, func(tx *jobs.Tx) error {
		dest, err := destination(tx, req.OwnerID, req.Destination)
		if err != nil {
			return err
		}
		if job, err = tx.CreateOneShot(req.OwnerID, dest, req.Content, fireAt); err != nil {
			return err
		}
		armed := false
		if fireAt.After(s.now()) {
			if err := s.sched.ArmOnce(job.ID, fireAt, s.onFire(jobs.KindOneShot)); err != nil {
				return errors.EngineFault(err, "arm "+job.ID)
			}
			armed = true
		}
		if err := tx.Persist(); err != nil {
			if armed {
				s.compensateDisarm(job.ID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return jobs.OneShot{}, s.escalate(err)
	}

	s.log.Info("one-shot scheduled", logx.String("id", job.ID), logx.String("owner", job.OwnerID),
		logx.Time("fire_at", job.FireAt), logx.Bool("armed", s.sched.Has(job.ID)))
	s.publish(eventbus.JobCreated, JobEvent{ID: job.ID, Kind: jobs.KindOneShot, OwnerID: job.OwnerID})
	return job, nil
}

// ScheduleRecurring stores an active recurring job and arms it.
func (s *Service) ScheduleRecurring(ctx context.Context, req RecurringRequest) (jobs.Recurring, error) {
	if err := required("user_id", req.OwnerID); err != nil {
		return jobs.Recurring{}, err
	}
	if err := required("content", req.Content); err != nil {
		return jobs.Recurring{}, err
	}
	if _, err := recurrence.Encode(req.Recurrence); err != nil {
		return jobs.Recurring{}, err
	}
	if !req.Recurrence.Type.Known() {
		s.log.Warn("unknown recurrence type, using daily",
			logx.String("type", string(req.Recurrence.Type)), logx.String("owner", req.OwnerID))
	}

	var job jobs.Recurring
	err := s.store.Update(ctx, func(tx *jobs.Tx) error {
		dest, err := destination(tx, req.OwnerID, req.Destination)
		if err != nil {
			return err
		}
		if job, err = tx.CreateRecurring(req.OwnerID, dest, req.Content, req.Recurrence); err != nil {
			return err
		}
		if err := s.sched.ArmRecurring(job.ID, job.Schedule, s.onFire(jobs.KindRecurring)); err != nil {
			return errors.EngineFault(err, "arm "+job.ID)
		}
		if err := tx.Persist(); err != nil {
			s.compensateDisarm(job.ID)
			return err
		}
		return nil
	})
	if err != nil {
		return jobs.Recurring{}, s.escalate(err)
	}

	s.log.Info("recurring scheduled", logx.String("id", job.ID), logx.String("owner", job.OwnerID), logx.String("cron", job.Schedule))
	s.publish(eventbus.JobCreated, JobEvent{ID: job.ID, Kind: jobs.KindRecurring, OwnerID: job.OwnerID})
	return job, nil
}

// Delete removes a job and its trigger. A missing id, or one of the other
// kind, reports false without error.
func (s *Service) Delete(ctx context.Context, id string, kind jobs.Kind) (bool, error) {
	if err := required("message_id", id); err != nil {
		return false, err
	}
	var (
		deleted bool
		owner   string
	)
	err := s.store.Update(ctx, func(tx *jobs.Tx) error {
		var rearm func() error
		switch kind {
		case jobs.KindOneShot:
			j, ok := tx.OneShot(id)
			if !ok {
				return nil
			}
			owner = j.OwnerID
			rearm = func() error { return s.sched.ArmOnce(id, j.FireAt, s.onFire(kind)) }
		case jobs.KindRecurring:
			j, ok := tx.Recurring(id)
			if !ok {
				return nil
			}
			owner = j.OwnerID
			rearm = func() error { return s.sched.ArmRecurring(id, j.Schedule, s.onFire(kind)) }
		default:
			return errors.Malformedf("unknown job kind %q", kind)
		}

		deleted = tx.Delete(id, kind)
		wasArmed := s.sched.Has(id)
		if wasArmed {
			s.sched.Disarm(id)
		}
		if err := tx.Persist(); err != nil {
			if wasArmed {
				if rerr := rearm(); rerr != nil {
					return inconsistent(err, rerr, id)
				}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return false, s.escalate(err)
	}
	if deleted {
		s.log.Info("job deleted", logx.String("id", id), logx.String("kind", string(kind)))
		s.publish(eventbus.JobDeleted, JobEvent{ID: id, Kind: kind, OwnerID: owner})
	}
	return deleted, nil
}

// Toggle sets a recurring job's active flag, or flips it when active is nil.
// found is false for an unknown id.
func (s *Service) Toggle(ctx context.Context, id string, active *bool) (job jobs.Recurring, found bool, err error) {
	if err := required("message_id", id); err != nil {
		return jobs.Recurring{}, false, err
	}
	err = s.store.Update(ctx, func(tx *jobs.Tx) error {
		cur, ok := tx.Recurring(id)
		if !ok {
			return nil
		}
		found = true
		want := !cur.Active
		if active != nil {
			want = *active
		}
		job, _ = tx.SetActive(id, want)

		undo := func() error { return nil }
		switch {
		case want && !s.sched.Has(id):
			if err := s.sched.ArmRecurring(id, job.Schedule, s.onFire(jobs.KindRecurring)); err != nil {
				return errors.EngineFault(err, "arm "+id)
			}
			undo = func() error { s.compensateDisarm(id); return nil }
		case !want && s.sched.Has(id):
			s.sched.Disarm(id)
			undo = func() error { return s.sched.ArmRecurring(id, job.Schedule, s.onFire(jobs.KindRecurring)) }
		}
		if err := tx.Persist(); err != nil {
			if uerr := undo(); uerr != nil {
				return inconsistent(err, uerr, id)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return jobs.Recurring{}, false, s.escalate(err)
	}
	if found {
		s.log.Info("recurring toggled", logx.String("id", id), logx.Bool("active", job.Active))
		s.publish(eventbus.JobToggled, JobEvent{ID: id, Kind: jobs.KindRecurring, OwnerID: job.OwnerID, Active: &job.Active})
	}
	return job, found, nil
}

// ConnectChannel binds destination to owner; later requests may omit it.
func (s *Service) ConnectChannel(ctx context.Context, owner, dest string) (string, error) {
	if err := required("user_id", owner); err != nil {
		return "", err
	}
	if err := required("channel_id", dest); err != nil {
		return "", err
	}
	dest = strings.TrimSpace(dest)
	if _, err := transport.ParseTarget(dest); err != nil {
		return "", err
	}
	err := s.store.Update(ctx, func(tx *jobs.Tx) error {
		tx.BindChannel(owner, dest)
		return tx.Persist()
	})
	if err != nil {
		return "", err
	}
	s.log.Info("channel connected", logx.String("owner", owner), logx.String("channel", dest))
	return dest, nil
}

func (s *Service) DisconnectChannel(ctx context.Context, owner string) error {
	if err := required("user_id", owner); err != nil {
		return err
	}
	err := s.store.Update(ctx, func(tx *jobs.Tx) error {
		if _, ok := tx.Channel(owner); !ok {
			return nil
		}
		tx.BindChannel(owner, "")
		return tx.Persist()
	})
	if err != nil {
		return err
	}
	s.log.Info("channel disconnected", logx.String("owner", owner))
	return nil
}

// compensateDisarm undoes an arm after a failed persist.
func (s *Service) compensateDisarm(id string) {
	s.sched.Disarm(id)
}

func inconsistent(cause, undoErr error, id string) error {
	err := errors.Wrapf(cause, "persist failed and trigger for %s could not be restored: %v", id, undoErr)
	return errors.Mark(err, errors.ErrInconsistent)
}

// escalate reports ErrInconsistent loudly and passes every error through.
func (s *Service) escalate(err error) error {
	if errors.Is(err, errors.ErrInconsistent) {
		s.log.Error("job store and scheduler diverged", logx.Bool("fatal", true), logx.Err(err))
		if s.fatal != nil {
			s.fatal(err)
		}
	}
	return err
}

func (s *Service) publish(typ string, ev JobEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: ev})
	}
}
