package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postbot/internal/errors"
	"postbot/internal/recurrence"
)

type memPersister struct {
	mu    sync.Mutex
	saved []Table
	fail  error
}

func (m *memPersister) Load(context.Context) (Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return Table{}, nil
	}
	return m.saved[len(m.saved)-1].Clone(), nil
}

func (m *memPersister) Save(_ context.Context, t Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.saved = append(m.saved, t)
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(p Persister) *Store {
	return NewStore(p, WithClock(func() time.Time { return fixedNow }))
}

func TestCreateOneShotAndRecurring(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)
	fire := fixedNow.Add(time.Hour)

	var once OneShot
	var rec Recurring
	err := s.Update(context.Background(), func(tx *Tx) error {
		var err error
		if once, err = tx.CreateOneShot("42", "@news", "hello", fire); err != nil {
			return err
		}
		rec, err = tx.CreateRecurring("42", "@news", "daily digest",
			recurrence.Recurrence{Type: recurrence.Custom, Time: "08:30", Days: []string{"1", "3", "5"}})
		return err
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(once.ID, "scheduled_"))
	assert.Len(t, once.ID, len("scheduled_")+8)
	assert.True(t, strings.HasPrefix(rec.ID, "recurring_"))
	assert.Equal(t, "30 8 * * 1,3,5", rec.Schedule)
	assert.True(t, rec.Active)
	assert.Equal(t, fixedNow, rec.CreatedAt)

	got, ok := s.GetOneShot(once.ID)
	require.True(t, ok)
	assert.Equal(t, fire, got.FireAt)
}

func TestCreateRecurringRejectsMalformedWithoutMutation(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)
	err := s.Update(context.Background(), func(tx *Tx) error {
		_, err := tx.CreateRecurring("42", "@news", "x", recurrence.Recurrence{Type: recurrence.Daily, Time: "7:00"})
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.IsMalformed(err))

	once, rec := s.ListForOwner("42")
	assert.Empty(t, once)
	assert.Empty(t, rec)
}

func TestIDsNeverCollide(t *testing.T) {
	t.Parallel()

	seq := []string{"aaaaaaaa", "aaaaaaaa", "bbbbbbbb"}
	var i int
	s := NewStore(nil, WithIDSource(func() string {
		v := seq[min(i, len(seq)-1)]
		i++
		return v
	}))

	var ids []string
	require.NoError(t, s.Update(context.Background(), func(tx *Tx) error {
		for range 2 {
			j, err := tx.CreateOneShot("1", "@c", "x", fixedNow)
			if err != nil {
				return err
			}
			ids = append(ids, j.ID)
		}
		return nil
	}))
	assert.Equal(t, []string{"scheduled_aaaaaaaa", "scheduled_bbbbbbbb"}, ids)
}

func TestIDExhaustion(t *testing.T) {
	t.Parallel()

	s := NewStore(nil, WithIDSource(func() string { return "deadbeef" }))
	err := s.Update(context.Background(), func(tx *Tx) error {
		if _, err := tx.CreateOneShot("1", "@c", "x", fixedNow); err != nil {
			return err
		}
		_, err := tx.CreateOneShot("1", "@c", "y", fixedNow)
		return err
	})
	assert.True(t, errors.Is(err, ErrIDExhausted))
	assert.Empty(t, s.Snapshot().OneShot)
}

func TestDeleteIsIdempotentAndKindChecked(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)
	var id string
	require.NoError(t, s.Update(context.Background(), func(tx *Tx) error {
		j, err := tx.CreateRecurring("7", "@c", "x", recurrence.Recurrence{Type: recurrence.Daily, Time: "10:00"})
		id = j.ID
		return err
	}))

	var results []bool
	require.NoError(t, s.Update(context.Background(), func(tx *Tx) error {
		results = append(results, tx.Delete(id, KindOneShot))
		results = append(results, tx.Delete(id, KindRecurring))
		results = append(results, tx.Delete(id, KindRecurring))
		return nil
	}))
	assert.Equal(t, []bool{false, true, false}, results)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)
	boom := errors.New("arm failed")
	err := s.Update(context.Background(), func(tx *Tx) error {
		if _, err := tx.CreateOneShot("1", "@c", "x", fixedNow); err != nil {
			return err
		}
		tx.BindChannel("1", "@c")
		tx.IncSent("1")
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	snap := s.Snapshot()
	assert.Empty(t, snap.OneShot)
	assert.Empty(t, snap.Channels)
	assert.Zero(t, s.SentTotal("1"))
}

func TestListForOwnerFiltersAndOrders(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)
	require.NoError(t, s.Update(context.Background(), func(tx *Tx) error {
		for i, owner := range []string{"a", "b", "a", "a"} {
			if _, err := tx.CreateOneShot(owner, "@c", fmt.Sprint(i), fixedNow.Add(time.Duration(10-i)*time.Minute)); err != nil {
				return err
			}
		}
		return nil
	}))

	once, rec := s.ListForOwner("a")
	assert.Empty(t, rec)
	require.Len(t, once, 3)
	assert.Equal(t, []string{"3", "2", "0"}, []string{once[0].Content, once[1].Content, once[2].Content})
}

func TestSetActiveAndChannels(t *testing.T) {
	t.Parallel()

	s := newTestStore(nil)
	var id string
	require.NoError(t, s.Update(context.Background(), func(tx *Tx) error {
		j, err := tx.CreateRecurring("7", "@c", "x", recurrence.Recurrence{Type: recurrence.Weekly, Time: "10:00"})
		id = j.ID
		tx.BindChannel("7", "@c")
		return err
	}))
	require.NoError(t, s.Update(context.Background(), func(tx *Tx) error {
		j, ok := tx.SetActive(id, false)
		require.True(t, ok)
		assert.False(t, j.Active)
		_, ok = tx.SetActive("recurring_missing", true)
		assert.False(t, ok)
		tx.BindChannel("7", "")
		return nil
	}))

	got, _ := s.GetRecurring(id)
	assert.False(t, got.Active)
	_, bound := s.Channel("7")
	assert.False(t, bound)
}

func TestPersistAndLoad(t *testing.T) {
	t.Parallel()

	p := &memPersister{}
	s := newTestStore(p)
	require.NoError(t, s.Update(context.Background(), func(tx *Tx) error {
		if _, err := tx.CreateRecurring("9", "@c", "x", recurrence.Recurrence{Type: recurrence.Monthly, Time: "06:15"}); err != nil {
			return err
		}
		tx.IncSent("9")
		return tx.Persist()
	}))
	require.Len(t, p.saved, 1)

	fresh := newTestStore(p)
	require.NoError(t, fresh.Load(context.Background()))
	_, rec := fresh.ListForOwner("9")
	require.Len(t, rec, 1)
	assert.Equal(t, "15 6 1 * *", rec[0].Schedule)
	assert.Equal(t, 1, fresh.SentTotal("9"))
}

func TestPersistFailureSurfaces(t *testing.T) {
	t.Parallel()

	p := &memPersister{fail: errors.New("disk full")}
	s := newTestStore(p)
	err := s.Update(context.Background(), func(tx *Tx) error {
		if _, err := tx.CreateOneShot("1", "@c", "x", fixedNow); err != nil {
			return err
		}
		return tx.Persist()
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, s.Snapshot().OneShot)
}

func TestLoadNormalizesEmptyTable(t *testing.T) {
	t.Parallel()

	s := newTestStore(&memPersister{})
	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.Update(context.Background(), func(tx *Tx) error {
		tx.BindChannel("1", "@c")
		return nil
	}))
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, ok := ParseKind("scheduled")
	assert.True(t, ok)
	assert.Equal(t, KindOneShot, k)
	k, ok = ParseKind("one_shot")
	assert.True(t, ok)
	assert.Equal(t, KindOneShot, k)
	_, ok = ParseKind("draft")
	assert.False(t, ok)
}
