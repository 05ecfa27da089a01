// Package posting ties the job store to the scheduler and the task engine.
//
// Every mutation follows one sequence under the store lock: validate, change
// the table, mirror the change into the scheduler, persist. If the scheduler
// refuses, the table change is discarded. If persisting fails, the scheduler
// change is undone. If that undo fails, the two have diverged: the error is
// marked ErrInconsistent and handed to the fatal handler.
//
// Deliveries run on the task engine. A fired job is read under the lock and
// sent after the lock is released; a job deleted in between is a no-op.
package posting

import (
	"context"
	"time"

	"postbot/internal/errors"
	"postbot/internal/eventbus"
	"postbot/internal/jobs"
	"postbot/internal/recurrence"
	"postbot/internal/storage"
	"postbot/internal/task/engine"
	"postbot/internal/task/scheduler"
	"postbot/internal/transport"
	logx "postbot/pkg/logx"
)

// TimestampLayout is the wire format of one-shot fire times.
const TimestampLayout = "2006-01-02 15:04"

var (
	ErrInvalidTimestamp = errors.Mark(errors.New("invalid timestamp"), errors.ErrMalformedInput)
	ErrMissingField     = errors.Mark(errors.New("missing required field"), errors.ErrMalformedInput)
)

// Scheduler is the subset of *scheduler.Service the posting service drives.
type Scheduler interface {
	ArmOnce(id string, at time.Time, action scheduler.Action) error
	ArmRecurring(id, expr string, action scheduler.Action) error
	Disarm(id string) bool
	Has(id string) bool
	Next(id string) (time.Time, bool)
}

// Runner executes deliveries off the scheduler goroutine.
type Runner interface {
	Enqueue(t engine.Task) error
}

// DeliveryLog records send attempts.
type DeliveryLog interface {
	AppendDelivery(ctx context.Context, d storage.Delivery) error
}

type Deps struct {
	Store      *jobs.Store
	Scheduler  Scheduler
	Runner     Runner
	Sender     transport.Sender
	Deliveries DeliveryLog // optional
	Bus        eventbus.Bus
	Log        logx.Logger
	Location   *time.Location
}

type OneShotRequest struct {
	OwnerID     string
	Destination string // empty uses the owner's bound channel
	Content     string
	FireAt      string // TimestampLayout in the service location
}

type RecurringRequest struct {
	OwnerID     string
	Destination string
	Content     string
	Recurrence  recurrence.Recurrence
}

// RestoreReport summarizes a Restore run.
type RestoreReport struct {
	ArmedOnce      int      `json:"armed_once"`
	ArmedRecurring int      `json:"armed_recurring"`
	Inactive       int      `json:"inactive"`
	Missed         []string `json:"missed,omitempty"`
	Failed         []string `json:"failed,omitempty"`
}

// JobEvent is the payload of job.* bus events.
type JobEvent struct {
	ID      string    `json:"id"`
	Kind    jobs.Kind `json:"kind"`
	OwnerID string    `json:"user_id"`
	Active  *bool     `json:"active,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	Error   string    `json:"error,omitempty"`
}
