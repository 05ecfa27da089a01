package jobs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"postbot/internal/errors"
	"postbot/internal/recurrence"
)

const idAttempts = 8

var ErrIDExhausted = errors.New("jobs: could not generate a unique id")

// Store is the authoritative job table.
type Store struct {
	mu sync.Mutex
	t  Table
	p  Persister

	now   func() time.Time
	newID func() string
}

type StoreOption func(*Store)

// WithClock overrides time.Now for created_at stamps.
func WithClock(now func() time.Time) StoreOption { return func(s *Store) { s.now = now } }

// WithIDSource overrides the random id suffix generator.
func WithIDSource(fn func() string) StoreOption { return func(s *Store) { s.newID = fn } }

// NewStore returns an empty store backed by p. A nil p keeps the table in
// memory only.
func NewStore(p Persister, opts ...StoreOption) *Store {
	s := &Store{
		t:     NewTable(),
		p:     p,
		now:   time.Now,
		newID: randomSuffix,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func randomSuffix() string {
	u := uuid.New()
	return strings.ReplaceAll(u.String(), "-", "")[:8]
}

// Load replaces the in-memory table with the persisted one.
func (s *Store) Load(ctx context.Context) error {
	if s.p == nil {
		return nil
	}
	t, err := s.p.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load job table")
	}
	t.normalize()
	s.mu.Lock()
	s.t = t
	s.mu.Unlock()
	return nil
}

// Update runs fn while holding the store lock. If fn returns an error every
// change it made to the table is discarded.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.t.Clone()
	tx := &Tx{s: s, ctx: ctx}
	if err := fn(tx); err != nil {
		s.t = before
		return err
	}
	return nil
}

// View runs fn with read access under the store lock. fn must not retain t.
func (s *Store) View(fn func(t *Table)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.t)
}

// Snapshot returns a deep copy of the table.
func (s *Store) Snapshot() Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Clone()
}

func (s *Store) GetOneShot(id string) (OneShot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.t.OneShot[id]
	return j, ok
}

func (s *Store) GetRecurring(id string) (Recurring, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.t.Recurring[id]
	return j, ok
}

// ListForOwner returns copies of the owner's jobs, one-shots ordered by
// fire time and recurring jobs by creation time.
func (s *Store) ListForOwner(owner string) ([]OneShot, []Recurring) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ListOwned(&s.t, owner)
}

// ListOwned is ListForOwner over a table already held, e.g. inside View.
func ListOwned(t *Table, owner string) ([]OneShot, []Recurring) {
	once := lo.Filter(lo.Values(t.OneShot), func(j OneShot, _ int) bool { return j.OwnerID == owner })
	rec := lo.Filter(lo.Values(t.Recurring), func(j Recurring, _ int) bool { return j.OwnerID == owner })
	sort.Slice(once, func(i, k int) bool {
		if !once[i].FireAt.Equal(once[k].FireAt) {
			return once[i].FireAt.Before(once[k].FireAt)
		}
		return once[i].ID < once[k].ID
	})
	sort.Slice(rec, func(i, k int) bool {
		if !rec[i].CreatedAt.Equal(rec[k].CreatedAt) {
			return rec[i].CreatedAt.Before(rec[k].CreatedAt)
		}
		return rec[i].ID < rec[k].ID
	})
	return once, rec
}

// Channel returns the destination bound to owner, if any.
func (s *Store) Channel(owner string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.t.Channels[owner]
	return d, ok
}

func (s *Store) SentTotal(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t.Sent[owner]
}

// Tx is the mutation handle passed to Update. It is only valid inside fn.
type Tx struct {
	s   *Store
	ctx context.Context
}

func (tx *Tx) table() *Table { return &tx.s.t }

func (tx *Tx) exists(id string) bool {
	_, a := tx.s.t.OneShot[id]
	_, b := tx.s.t.Recurring[id]
	return a || b
}

func (tx *Tx) freshID(kind Kind) (string, error) {
	for range idAttempts {
		id := string(kind) + "_" + tx.s.newID()
		if !tx.exists(id) {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

// CreateOneShot inserts a new one-shot job and returns it.
func (tx *Tx) CreateOneShot(owner, destination, content string, fireAt time.Time) (OneShot, error) {
	id, err := tx.freshID(KindOneShot)
	if err != nil {
		return OneShot{}, err
	}
	j := OneShot{
		ID:          id,
		OwnerID:     owner,
		Destination: destination,
		Content:     content,
		CreatedAt:   tx.s.now(),
		FireAt:      fireAt,
	}
	tx.table().OneShot[id] = j
	return j, nil
}

// CreateRecurring encodes r and inserts an active recurring job.
func (tx *Tx) CreateRecurring(owner, destination, content string, r recurrence.Recurrence) (Recurring, error) {
	schedule, err := recurrence.Encode(r)
	if err != nil {
		return Recurring{}, err
	}
	id, err := tx.freshID(KindRecurring)
	if err != nil {
		return Recurring{}, err
	}
	j := Recurring{
		ID:          id,
		OwnerID:     owner,
		Destination: destination,
		Content:     content,
		CreatedAt:   tx.s.now(),
		Schedule:    schedule,
		Active:      true,
	}
	tx.table().Recurring[id] = j
	return j, nil
}

// Delete removes id if it exists with the given kind and reports whether it did.
func (tx *Tx) Delete(id string, kind Kind) bool {
	t := tx.table()
	switch kind {
	case KindOneShot:
		if _, ok := t.OneShot[id]; ok {
			delete(t.OneShot, id)
			return true
		}
	case KindRecurring:
		if _, ok := t.Recurring[id]; ok {
			delete(t.Recurring, id)
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy of the table as modified so far.
func (tx *Tx) Snapshot() Table { return tx.table().Clone() }

func (tx *Tx) OneShot(id string) (OneShot, bool) {
	j, ok := tx.table().OneShot[id]
	return j, ok
}

func (tx *Tx) Recurring(id string) (Recurring, bool) {
	j, ok := tx.table().Recurring[id]
	return j, ok
}

// SetActive sets the active flag of a recurring job and returns the result.
func (tx *Tx) SetActive(id string, active bool) (Recurring, bool) {
	t := tx.table()
	j, ok := t.Recurring[id]
	if !ok {
		return Recurring{}, false
	}
	j.Active = active
	t.Recurring[id] = j
	return j, true
}

// BindChannel sets owner's destination; an empty destination clears it.
func (tx *Tx) BindChannel(owner, destination string) {
	if destination == "" {
		delete(tx.table().Channels, owner)
		return
	}
	tx.table().Channels[owner] = destination
}

func (tx *Tx) Channel(owner string) (string, bool) {
	d, ok := tx.table().Channels[owner]
	return d, ok
}

func (tx *Tx) IncSent(owner string) int {
	t := tx.table()
	t.Sent[owner]++
	return t.Sent[owner]
}

// Persist flushes the full table to the backing Persister.
func (tx *Tx) Persist() error {
	if tx.s.p == nil {
		return nil
	}
	if err := tx.s.p.Save(tx.ctx, tx.s.t.Clone()); err != nil {
		return errors.Wrap(err, "persist job table")
	}
	return nil
}
