package posting

import (
	"context"

	"github.com/samber/lo"

	"postbot/internal/eventbus"
	"postbot/internal/jobs"
	logx "postbot/pkg/logx"
)

// Restore rebuilds the scheduler from the store after a process start.
//
// Active recurring jobs and one-shots still in the future are armed.
// Past-due one-shots are not fired late: they stay in the table, unarmed,
// and a job.missed event is published for each. A recurring job whose
// schedule cannot be armed is deactivated so the table never claims an
// active job without a trigger.
func (s *Service) Restore(ctx context.Context) (RestoreReport, error) {
	var rep RestoreReport
	now := s.now()

	err := s.store.Update(ctx, func(tx *jobs.Tx) error {
		snap := tx.Snapshot()

		pending := func(j jobs.OneShot, _ int) bool { return j.FireAt.After(now) }
		future := lo.Filter(lo.Values(snap.OneShot), pending)
		past := lo.Reject(lo.Values(snap.OneShot), pending)
		for _, j := range future {
			if err := s.sched.ArmOnce(j.ID, j.FireAt, s.onFire(jobs.KindOneShot)); err != nil {
				s.log.Error("restore: arm one-shot failed", logx.String("id", j.ID), logx.Err(err))
				rep.Failed = append(rep.Failed, j.ID)
				continue
			}
			rep.ArmedOnce++
		}
		for _, j := range past {
			rep.Missed = append(rep.Missed, j.ID)
			s.log.Warn("restore: one-shot missed while offline", logx.String("id", j.ID), logx.Time("fire_at", j.FireAt))
			s.publish(eventbus.JobMissed, JobEvent{ID: j.ID, Kind: jobs.KindOneShot, OwnerID: j.OwnerID})
		}

		changed := false
		for _, j := range snap.Recurring {
			if !j.Active {
				rep.Inactive++
				continue
			}
			if err := s.sched.ArmRecurring(j.ID, j.Schedule, s.onFire(jobs.KindRecurring)); err != nil {
				s.log.Error("restore: arm recurring failed, deactivating", logx.String("id", j.ID),
					logx.String("cron", j.Schedule), logx.Err(err))
				tx.SetActive(j.ID, false)
				rep.Failed = append(rep.Failed, j.ID)
				changed = true
				continue
			}
			rep.ArmedRecurring++
		}
		if changed {
			return tx.Persist()
		}
		return nil
	})
	if err != nil {
		return rep, err
	}

	s.log.Info("scheduler restored",
		logx.Int("armed_once", rep.ArmedOnce), logx.Int("armed_recurring", rep.ArmedRecurring),
		logx.Int("inactive", rep.Inactive), logx.Int("missed", len(rep.Missed)), logx.Int("failed", len(rep.Failed)))
	return rep, nil
}
