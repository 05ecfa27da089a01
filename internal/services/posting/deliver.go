package posting

import (
	"context"
	"time"

	"postbot/internal/errors"
	"postbot/internal/eventbus"
	"postbot/internal/jobs"
	"postbot/internal/storage"
	"postbot/internal/task/engine"
	"postbot/internal/task/scheduler"
	"postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// onFire returns the trigger action for kind. It only enqueues; the send
// happens on an engine worker.
func (s *Service) onFire(kind jobs.Kind) scheduler.Action {
	return func(id string) {
		err := s.runner.Enqueue(engine.Task{
			Name: "deliver." + string(kind),
			Key:  id,
			Opt:  engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
			Run: func(ctx context.Context, attempt int) error {
				return s.deliver(ctx, kind, id, attempt)
			},
		})
		if err != nil {
			s.log.Warn("delivery not enqueued", logx.String("id", id), logx.Err(err))
			s.tel.dropped(context.Background(), kind)
			s.publish(eventbus.JobFailed, JobEvent{ID: id, Kind: kind, Error: err.Error()})
		}
	}
}

type post struct {
	owner   string
	dest    string
	content string
}

// lookup reads the job under the store lock. ok is false when the job is gone
// or, for recurring jobs, paused.
func (s *Service) lookup(kind jobs.Kind, id string) (p post, ok bool) {
	s.store.View(func(t *jobs.Table) {
		switch kind {
		case jobs.KindOneShot:
			if j, found := t.OneShot[id]; found {
				p, ok = post{owner: j.OwnerID, dest: j.Destination, content: j.Content}, true
			}
		case jobs.KindRecurring:
			if j, found := t.Recurring[id]; found && j.Active {
				p, ok = post{owner: j.OwnerID, dest: j.Destination, content: j.Content}, true
			}
		}
	})
	return p, ok
}

// deliver sends one fired job. It never holds the store lock across the send.
func (s *Service) deliver(ctx context.Context, kind jobs.Kind, id string, attempt int) (err error) {
	ctx, end := s.tel.startDelivery(ctx, kind, id)
	defer func() { end(err) }()

	p, ok := s.lookup(kind, id)
	if !ok {
		s.log.Debug("fired job no longer present", logx.String("id", id))
		return nil
	}
	target, err := transport.ParseTarget(p.dest)
	if err != nil {
		s.recordDelivery(ctx, storage.Delivery{JobID: id, Kind: kind, OwnerID: p.owner, Destination: p.dest, Attempt: attempt, Error: err.Error()})
		return engine.NoRetry(err)
	}

	start := time.Now()
	ref, err := s.sender.SendText(ctx, target, p.content, &transport.SendOptions{})
	took := time.Since(start)
	d := storage.Delivery{
		JobID: id, Kind: kind, OwnerID: p.owner, Destination: p.dest,
		At: s.now(), Attempt: attempt, OK: err == nil, MessageID: ref.MessageID, TookMS: took.Milliseconds(),
	}
	if err != nil {
		d.Error = err.Error()
		s.recordDelivery(ctx, d)
		s.publish(eventbus.JobFailed, JobEvent{ID: id, Kind: kind, OwnerID: p.owner, Attempt: attempt, Error: d.Error})
		return retryPolicy(err)
	}
	s.recordDelivery(ctx, d)
	s.tel.sent(ctx, kind, took)

	// Persist failures here are logged, not retried: the message is out.
	perr := s.store.Update(ctx, func(tx *jobs.Tx) error {
		if kind == jobs.KindOneShot {
			tx.Delete(id, kind)
		}
		tx.IncSent(p.owner)
		return tx.Persist()
	})
	if perr != nil {
		s.log.Error("persist after delivery failed", logx.String("id", id), logx.Err(perr))
	}

	s.log.Info("job delivered", logx.String("id", id), logx.String("kind", string(kind)),
		logx.String("channel", p.dest), logx.Int("attempt", attempt), logx.Duration("took", took))
	s.publish(eventbus.JobDelivered, JobEvent{ID: id, Kind: kind, OwnerID: p.owner, Attempt: attempt})
	return nil
}

// retryPolicy maps sender errors onto engine retry hints.
func retryPolicy(err error) error {
	var perm interface{ Permanent() bool }
	if errors.As(err, &perm) && perm.Permanent() {
		return engine.NoRetry(err)
	}
	if errors.Is(err, errors.ErrMalformedInput) {
		return engine.NoRetry(err)
	}
	return err
}

func (s *Service) recordDelivery(ctx context.Context, d storage.Delivery) {
	if s.dlog == nil {
		return
	}
	if err := s.dlog.AppendDelivery(context.WithoutCancel(ctx), d); err != nil {
		s.log.Warn("delivery log append failed", logx.String("id", d.JobID), logx.Err(err))
	}
}
