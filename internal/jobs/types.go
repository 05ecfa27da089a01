// Package jobs holds the job table: every one-shot and recurring post an
// owner has scheduled, plus per-owner channel bindings and delivery counts.
//
// The Store is the single owner of that table. All reads and writes go
// through its lock; the Schedule Engine and the delivery path only ever see
// copies.
package jobs

import (
	"context"
	"time"
)

type Kind string

const (
	KindOneShot   Kind = "scheduled"
	KindRecurring Kind = "recurring"
)

// ParseKind accepts the wire names "scheduled" (alias "one_shot") and
// "recurring".
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "scheduled", "one_shot":
		return KindOneShot, true
	case "recurring":
		return KindRecurring, true
	}
	return "", false
}

// OneShot fires once at FireAt.
type OneShot struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"user_id"`
	Destination string    `json:"channel_id"`
	Content     string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	FireAt      time.Time `json:"fire_at"`
}

// Recurring fires on every match of Schedule (five-field cron, Monday=0).
type Recurring struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"user_id"`
	Destination string    `json:"channel_id"`
	Content     string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	Schedule    string    `json:"cron"`
	Active      bool      `json:"active"`
}

// Table is the persisted form of the store.
type Table struct {
	OneShot   map[string]OneShot   `json:"scheduled"`
	Recurring map[string]Recurring `json:"recurring"`
	// Channels maps owner id to the bound destination.
	Channels map[string]string `json:"channels"`
	// Sent counts successful deliveries per owner.
	Sent map[string]int `json:"sent"`
}

func NewTable() Table {
	return Table{
		OneShot:   map[string]OneShot{},
		Recurring: map[string]Recurring{},
		Channels:  map[string]string{},
		Sent:      map[string]int{},
	}
}

// normalize replaces nil maps so a decoded table is always writable.
func (t *Table) normalize() {
	if t.OneShot == nil {
		t.OneShot = map[string]OneShot{}
	}
	if t.Recurring == nil {
		t.Recurring = map[string]Recurring{}
	}
	if t.Channels == nil {
		t.Channels = map[string]string{}
	}
	if t.Sent == nil {
		t.Sent = map[string]int{}
	}
}

// Clone returns a deep copy.
func (t Table) Clone() Table {
	out := NewTable()
	for k, v := range t.OneShot {
		out.OneShot[k] = v
	}
	for k, v := range t.Recurring {
		out.Recurring[k] = v
	}
	for k, v := range t.Channels {
		out.Channels[k] = v
	}
	for k, v := range t.Sent {
		out.Sent[k] = v
	}
	return out
}

// Persister stores and loads the whole table. Implementations live in
// internal/storage.
type Persister interface {
	Load(ctx context.Context) (Table, error)
	Save(ctx context.Context, t Table) error
}
