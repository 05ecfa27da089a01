package storage

import (
	"context"
	"time"

	"postbot/internal/errors"
	"postbot/internal/jobs"
)

var ErrClosed = errors.New("storage closed")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery records one send attempt of a fired job.
type Delivery struct {
	ID          string    `json:"id"`
	JobID       string    `json:"job_id"`
	Kind        jobs.Kind `json:"kind"`
	OwnerID     string    `json:"user_id"`
	Destination string    `json:"channel_id"`
	At          time.Time `json:"at"`
	Attempt     int       `json:"attempt"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	MessageID   int       `json:"message_id,omitempty"`
	TookMS      int64     `json:"took_ms"`
}

// Store is the durable side of the job table.
type Store interface {
	jobs.Persister

	// AppendDelivery writes d, assigning a ULID when d.ID is empty.
	AppendDelivery(ctx context.Context, d Delivery) error
	// RecentDeliveries returns up to limit records, newest first.
	RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error)

	Close() error
}
