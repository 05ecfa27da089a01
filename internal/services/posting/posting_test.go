package posting

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type armed struct {
	at     time.Time
	spec   string
	action scheduler.Action
}

type fakeScheduler struct {
	mu      sync.Mutex
	entries map[string]armed
	armErr  error
	// armErrAfter fails every arm once this many arms succeeded (0 = never).
	armErrAfter int
	arms        int
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{entries: map[string]armed{}} }

func (f *fakeScheduler) arm(id string, a armed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armErr != nil || (f.armErrAfter > 0 && f.arms >= f.armErrAfter) {
		return errors.New("timer facility refused")
	}
	f.arms++
	f.entries[id] = a
	return nil
}

func (f *fakeScheduler) ArmOnce(id string, at time.Time, action scheduler.Action) error {
	return f.arm(id, armed{at: at, action: action})
}

func (f *fakeScheduler) ArmRecurring(id, expr string, action scheduler.Action) error {
	if _, err := scheduler.ToCronSpec(expr); err != nil {
		return err
	}
	return f.arm(id, armed{spec: expr, action: action})
}

func (f *fakeScheduler) Disarm(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	delete(f.entries, id)
	return ok
}

func (f *fakeScheduler) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	return ok
}

func (f *fakeScheduler) Next(id string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	return e.at, ok
}

func (f *fakeScheduler) fire(t *testing.T, id string) {
	t.Helper()
	f.mu.Lock()
	e, ok := f.entries[id]
	if ok && e.spec == "" {
		delete(f.entries, id)
	}
	f.mu.Unlock()
	require.True(t, ok, "no trigger for %s", id)
	e.action(id)
}

// syncRunner runs tasks inline with a single attempt.
type syncRunner struct {
	mu   sync.Mutex
	errs []error
}

func (r *syncRunner) Enqueue(t engine.Task) error {
	err := t.Run(context.Background(), 1)
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	return nil
}

type sentMsg struct {
	to   transport.ChatTarget
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMsg
	err  error
}

func (s *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return transport.MessageRef{}, s.err
	}
	s.sent = append(s.sent, sentMsg{to: to, text: text})
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(s.sent)}, nil
}

type flakyPersister struct {
	storage.Store
	mu   sync.Mutex
	fail bool
}

func (p *flakyPersister) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

func (p *flakyPersister) Save(ctx context.Context, t jobs.Table) error {
	p.mu.Lock()
	fail := p.fail
	p.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return p.Store.Save(ctx, t)
}

type harness struct {
	svc    *Service
	store  *jobs.Store
	sched  *fakeScheduler
	runner *syncRunner
	sender *fakeSender
	disk   *flakyPersister
	bus    *eventbus.MemBus
	fatal  []error
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Yerevan")
	require.NoError(t, err)

	h := &harness{
		sched:  newFakeScheduler(),
		runner: &syncRunner{},
		sender: &fakeSender{},
		disk:   &flakyPersister{Store: storage.NewMemory()},
		bus:    eventbus.New(),
		now:    time.Date(2026, 5, 1, 10, 0, 0, 0, loc),
	}
	clock := func() time.Time { return h.now }
	h.store = jobs.NewStore(h.disk, jobs.WithClock(clock))
	h.svc = New(Deps{
		Store:      h.store,
		Scheduler:  h.sched,
		Runner:     h.runner,
		Sender:     h.sender,
		Deliveries: h.disk,
		Bus:        h.bus,
		Log:        logx.Nop(),
		Location:   loc,
	}, WithClock(clock), WithFatalHandler(func(err error) { h.fatal = append(h.fatal, err) }))
	return h
}

func (h *harness) persisted(t *testing.T) jobs.Table {
	t.Helper()
	tab, err := h.disk.Store.Load(context.Background())
	require.NoError(t, err)
	return tab
}

func TestScheduleOneShot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.ScheduleOneShot(ctx, OneShotRequest{OwnerID: "42", Destination: "@news", Content: "hi", FireAt: "2026-05-02 08:30"})
	require.NoError(t, err)
	assert.Regexp(t, `^scheduled_[0-9a-f]{8}$`, job.ID)
	assert.True(t, h.sched.Has(job.ID))
	assert.Equal(t, "2026-05-02T08:30:00+04:00", job.FireAt.Format(time.RFC3339))
	assert.Contains(t, h.persisted(t).OneShot, job.ID)
}

func TestScheduleOneShotInPastIsStoredNotArmed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	job, err := h.svc.ScheduleOneShot(context.Background(), OneShotRequest{OwnerID: "42", Destination: "@news", Content: "late", FireAt: "2026-04-30 08:30"})
	require.NoError(t, err)
	assert.False(t, h.sched.Has(job.ID))

	data := h.svc.List("42")
	require.Len(t, data.Scheduled, 1)
	assert.True(t, data.Scheduled[0].Missed)
	assert.Equal(t, "2026-04-30 08:30", data.Scheduled[0].Datetime)
}

func TestMalformedInputLeavesEverythingUntouched(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() error
		want error
	}{
		{"bad timestamp", func() error {
			_, err := h.svc.ScheduleOneShot(ctx, OneShotRequest{OwnerID: "42", Destination: "@news", Content: "x", FireAt: "02/05/2026 08:30"})
			return err
		}, ErrInvalidTimestamp},
		{"missing content", func() error {
			_, err := h.svc.ScheduleOneShot(ctx, OneShotRequest{OwnerID: "42", Destination: "@news", FireAt: "2026-05-02 08:30"})
			return err
		}, ErrMissingField},
		{"no channel bound", func() error {
			_, err := h.svc.ScheduleOneShot(ctx, OneShotRequest{OwnerID: "42", Content: "x", FireAt: "2026-05-02 08:30"})
			return err
		}, ErrMissingField},
		{"bad destination", func() error {
			_, err := h.svc.ScheduleOneShot(ctx, OneShotRequest{OwnerID: "42", Destination: "news", Content: "x", FireAt: "2026-05-02 08:30"})
			return err
		}, transport.ErrBadDestination},
		{"bad time of day", func() error {
			_, err := h.svc.ScheduleRecurring(ctx, RecurringRequest{OwnerID: "42", Destination: "@news", Content: "x",
				Recurrence: recurrence.Recurrence{Type: recurrence.Daily, Time: "8:30"}})
			return err
		}, recurrence.ErrMalformedTime},
		{"bad custom days", func() error {
			_, err := h.svc.ScheduleRecurring(ctx, RecurringRequest{OwnerID: "42", Destination: "@news", Content: "x",
				Recurrence: recurrence.Recurrence{Type: recurrence.Custom, Time: "08:30", Days: []string{"9"}}})
			return err
		}, recurrence.ErrMalformedDays},
	}
	for _, tc := range cases {
		err := tc.run()
		assert.True(t, errors.Is(err, tc.want), tc.name)
		assert.True(t, errors.Is(err, errors.ErrMalformedInput), tc.name)
	}

	tab := h.store.Snapshot()
	assert.Empty(t, tab.OneShot)
	assert.Empty(t, tab.Recurring)
	assert.Empty(t, h.sched.entries)
}

func TestBoundChannelIsUsedWhenOmitted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.ConnectChannel(ctx, "42", "-1001234567890")
	require.NoError(t, err)

	job, err := h.svc.ScheduleRecurring(ctx, RecurringRequest{OwnerID: "42", Content: "gm",
		Recurrence: recurrence.Recurrence{Type: recurrence.Daily, Time: "09:00"}})
	require.NoError(t, err)
	assert.Equal(t, "-1001234567890", job.Destination)

	require.NoError(t, h.svc.DisconnectChannel(ctx, "42"))
	_, ok := h.store.Channel("42")
	assert.False(t, ok)
	assert.Empty(t, h.persisted(t).Channels)
}

func TestRecurringCreateDeleteLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.ScheduleRecurring(ctx, RecurringRequest{OwnerID: "42", Destination: "@news", Content: "weekly digest",
		Recurrence: recurrence.Recurrence{Type: recurrence.Custom, Time: "08:30", Days: []string{"1", "3", "5"}}})
	require.NoError(t, err)
	assert.Equal(t, "30 8 * * 1,3,5", job.Schedule)
	assert.True(t, job.Active)
	assert.True(t, h.sched.Has(job.ID))

	data := h.svc.List("42")
	require.Len(t, data.Recurring, 1)
	assert.Equal(t, recurrence.Recurrence{Type: recurrence.Custom, Time: "08:30", Days: []string{"1", "3", "5"}}, data.Recurring[0].Recurring)

	deleted, err := h.svc.Delete(ctx, job.ID, jobs.KindRecurring)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, h.sched.Has(job.ID))
	assert.Empty(t, h.svc.List("42").Recurring)

	deleted, err = h.svc.Delete(ctx, job.ID, jobs.KindRecurring)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteWrongKindIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.ScheduleOneShot(ctx, OneShotRequest{OwnerID: "42", Destination: "@news", Content: "x", FireAt: "2026-05-02 08:30"})
	require.NoError(t, err)

	deleted, err := h.svc.Delete(ctx, job.ID, jobs.KindRecurring)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, h.sched.Has(job.ID))
}

func TestUnknownTypeFallsBackToDaily(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	job, err := h.svc.ScheduleRecurring(context.Background(), RecurringRequest{OwnerID: "42", Destination: "@news", Content: "x",
		Recurrence: recurrence.Recurrence{Type: "fortnightly", Time: "07:05"}})
	require.NoError(t, err)
	assert.Equal(t, "5 7 * * *", job.Schedule)
}

func TestEngineFaultRollsBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.sched.armErr = errors.New("refused")
	ctx := context.Background()

	_, err := h.svc.ScheduleRecurring(ctx, RecurringRequest{OwnerID: "42", Destination: "@news", Content: "x",
		Recurrence: recurrence.Recurrence{Type: recurrence.Weekly, Time: "10:00"}})
	assert.True(t, errors.Is(err, errors.ErrEngineFault))

	_, err = h.svc.ScheduleOneShot(ctx, OneShotRequest{OwnerID: "42", Destination: "@news", Content: "x", FireAt: "2026-05-02 08:30"})
	assert.True(t, errors.Is(err, errors.ErrEngineFault))

	assert.Empty(t, h.store.Snapshot().Recurring)
	assert.Empty(t, h.store.Snapshot().OneShot)
	assert.Empty(t, h.persisted(t).Recurring)
	assert.Empty(t, h.fatal)
}

func TestPersistFailureDisarms(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.disk.setFail(true)

	_, err := h.svc.ScheduleOneShot(context.Background(), OneShotRequest{OwnerID: "42", Destination: "@news", Content: "x", FireAt: "2026-05-02 08:30"})
	require.Error(t, err)
	assert.Empty(t, h.store.Snapshot().OneShot)
	assert.Empty(t, h.sched.entries)
}

func TestDeletePersistFailureRearms(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.ScheduleRecurring(ctx, RecurringRequest{OwnerID: "42", Destination: "@news", Content: "x",
		Recurrence: recurrence.Recurrence{Type: recurrence.Monthly, Time: "06:00"}})
	require.NoError(t, err)

	h.disk.setFail(true)
	deleted, err := h.svc.Delete(ctx, job.ID, jobs.KindRecurring)
	require.Error(t, err)
	assert.False(t, deleted)
	assert.True(t, h.sched.Has(job.ID))
	_, ok := h.store.GetRecurring(job.ID)
	assert.True(t, ok)
	assert.Empty(t, h.fatal)
}

func TestDeleteRollbackFailureIsFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.ScheduleRecurring(ctx, RecurringRequest{OwnerID: "42", Destination: "@news", Content: "x",
		Recurrence: recurrence.Recurrence{Type: recurrence.Daily, Time: "06:00"}})
	require.NoError(t, err)

	h.disk.setFail(true)
	h.sched.armErrAfter = 1
	_, err = h.svc.Delete(ctx, job.ID, jobs.KindRecurring)
	assert.True(t, errors.Is(err, errors.ErrInconsistent))
	require.Len(t, h.fatal, 1)
	assert.True(t, errors.Is(h.fatal[0], errors.ErrInconsistent))
}

func TestToggle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.ScheduleRecurring(ctx, RecurringRequest{OwnerID: "42", Destination: "@news", Content: "x",
		Recurrence: recurrence.Recurrence{Type: recurrence.Daily, Time: "06:00"}})
	require.NoError(t, err)

	got, found, err := h.svc.Toggle(ctx, job.ID, nil)
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, got.Active)
	assert.False(t, h.sched.Has(job.ID))
	assert.False(t, h.persisted(t).Recurring[job.ID].Active)

	on := true
	got, _, err = h.svc.Toggle(ctx, job.ID, &on)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.True(t, h.sched.Has(job.ID))

	_, found, err = h.svc.Toggle(ctx, "recurring_missing", nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestToggleArmFailureKeepsInactive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.ScheduleRecurring(ctx, RecurringRequest{OwnerID: "42", Destination: "@news", Content: "x",
		Recurrence: recurrence.Recurrence{Type: recurrence.Daily, Time: "06:00"}})
	require.NoError(t, err)
	_, _, err = h.svc.Toggle(ctx, job.ID, nil)
	require.NoError(t, err)

	h.sched.armErr = errors.New("refused")
	_, _, err = h.svc.Toggle(ctx, job.ID, nil)
	assert.True(t, errors.Is(err, errors.ErrEngineFault))
	j, _ := h.store.GetRecurring(job.ID)
	assert.False(t, j.Active)
}

func TestRestore(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	loc := h.svc.Location()

	tab := jobs.NewTable()
	tab.OneShot["scheduled_future01"] = jobs.OneShot{ID: "scheduled_future01", OwnerID: "42", Destination: "@news", Content: "a",
		FireAt: time.Date(2026, 5, 3, 9, 0, 0, 0, loc)}
	tab.OneShot["scheduled_past0001"] = jobs.OneShot{ID: "scheduled_past0001", OwnerID: "42", Destination: "@news", Content: "b",
		FireAt: time.Date(2026, 4, 3, 9, 0, 0, 0, loc)}
	tab.Recurring["recurring_active01"] = jobs.Recurring{ID: "recurring_active01", OwnerID: "42", Destination: "@news", Schedule: "0 12 * * *", Active: true}
	tab.Recurring["recurring_paused01"] = jobs.Recurring{ID: "recurring_paused01", OwnerID: "42", Destination: "@news", Schedule: "0 12 * * 1", Active: false}
	tab.Recurring["recurring_corrupt1"] = jobs.Recurring{ID: "recurring_corrupt1", OwnerID: "42", Destination: "@news", Schedule: "every day", Active: true}
	require.NoError(t, h.disk.Store.Save(ctx, tab))
	require.NoError(t, h.store.Load(ctx))

	events, unsub := h.bus.Subscribe(16)
	defer unsub()

	rep, err := h.svc.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ArmedOnce)
	assert.Equal(t, 1, rep.ArmedRecurring)
	assert.Equal(t, 1, rep.Inactive)
	assert.Equal(t, []string{"scheduled_past0001"}, rep.Missed)
	assert.Equal(t, []string{"recurring_corrupt1"}, rep.Failed)

	assert.True(t, h.sched.Has("scheduled_future01"))
	assert.False(t, h.sched.Has("scheduled_past0001"))
	assert.True(t, h.sched.Has("recurring_active01"))
	assert.False(t, h.sched.Has("recurring_paused01"))
	assert.False(t, h.sched.Has("recurring_corrupt1"))
	assert.False(t, h.persisted(t).Recurring["recurring_corrupt1"].Active)

	ev := <-events
	assert.Equal(t, eventbus.JobMissed, ev.Type)
}

func TestDeliveryRemovesOneShot(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.ScheduleOneShot(ctx, OneShotRequest{OwnerID: "42", Destination: "-1001234567890", Content: "launch", FireAt: "2026-05-02 08:30"})
	require.NoError(t, err)

	h.sched.fire(t, job.ID)

	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, int64(-1001234567890), h.sender.sent[0].to.ChatID)
	assert.Equal(t, "launch", h.sender.sent[0].text)
	_, ok := h.store.GetOneShot(job.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, h.store.SentTotal("42"))
	assert.Equal(t, 1, h.persisted(t).Sent["42"])

	log, err := h.disk.RecentDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.True(t, log[0].OK)
	assert.Equal(t, job.ID, log[0].JobID)
}

func TestDeliveryRecurringStaysArmed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.ScheduleRecurring(ctx, RecurringRequest{OwnerID: "42", Destination: "@news", Content: "gm",
		Recurrence: recurrence.Recurrence{Type: recurrence.Daily, Time: "09:00"}})
	require.NoError(t, err)

	h.sender.err = errors.New("network down")
	h.sched.fire(t, job.ID)
	assert.Error(t, h.runner.errs[0])
	assert.False(t, engine.IsNoRetry(h.runner.errs[0]))
	assert.True(t, h.sched.Has(job.ID))

	h.sender.err = nil
	h.sched.fire(t, job.ID)
	assert.NoError(t, h.runner.errs[1])
	assert.Len(t, h.sender.sent, 1)
	_, ok := h.store.GetRecurring(job.ID)
	assert.True(t, ok)
}

func TestDeliveryOfDeletedJobIsNoop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.ScheduleOneShot(ctx, OneShotRequest{OwnerID: "42", Destination: "@news", Content: "x", FireAt: "2026-05-02 08:30"})
	require.NoError(t, err)

	action := h.sched.entries[job.ID].action
	_, err = h.svc.Delete(ctx, job.ID, jobs.KindOneShot)
	require.NoError(t, err)

	action(job.ID)
	assert.Empty(t, h.sender.sent)
	assert.NoError(t, h.runner.errs[0])
}

type permanent struct{ error }

func (permanent) Permanent() bool { return true }

func TestPermanentSendErrorIsNotRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	job, err := h.svc.ScheduleOneShot(context.Background(), OneShotRequest{OwnerID: "42", Destination: "@gone_channel", Content: "x", FireAt: "2026-05-02 08:30"})
	require.NoError(t, err)

	h.sender.err = permanent{errors.New("chat not found")}
	h.sched.fire(t, job.ID)
	assert.True(t, engine.IsNoRetry(h.runner.errs[0]))
}

// Concurrent mutations and firings against the real scheduler leave exactly
// one trigger per live job and none for anything else.
func TestConcurrentMutationsKeepTriggersInSync(t *testing.T) {
	t.Parallel()

	sched := scheduler.New(time.UTC, logx.Nop())
	sched.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sched.Stop(ctx)
	})

	store := jobs.NewStore(storage.NewMemory())
	svc := New(Deps{
		Store:     store,
		Scheduler: sched,
		Runner:    &syncRunner{},
		Sender:    &fakeSender{},
		Bus:       eventbus.New(),
		Log:       logx.Nop(),
		Location:  time.UTC,
	})
	ctx := context.Background()

	const workers = 8
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids []string
	)
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			owner := strconv.Itoa(100 + w)
			for i := range 6 {
				rec, err := svc.ScheduleRecurring(ctx, RecurringRequest{OwnerID: owner, Destination: "@news", Content: "gm",
					Recurrence: recurrence.Recurrence{Type: recurrence.Daily, Time: "08:30"}})
				if !assert.NoError(t, err) {
					return
				}
				once, err := svc.ScheduleOneShot(ctx, OneShotRequest{OwnerID: owner, Destination: "@news", Content: "x", FireAt: "2099-01-01 10:00"})
				if !assert.NoError(t, err) {
					return
				}

				svc.onFire(jobs.KindRecurring)(rec.ID)
				_, _, err = svc.Toggle(ctx, rec.ID, nil)
				assert.NoError(t, err)
				svc.onFire(jobs.KindRecurring)(rec.ID)
				if i%2 == 0 {
					_, _, err = svc.Toggle(ctx, rec.ID, nil)
					assert.NoError(t, err)
				}
				if i%3 == 0 {
					_, err = svc.Delete(ctx, rec.ID, jobs.KindRecurring)
					assert.NoError(t, err)
					_, err = svc.Delete(ctx, once.ID, jobs.KindOneShot)
					assert.NoError(t, err)
				}
				mu.Lock()
				ids = append(ids, rec.ID, once.ID)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	require.Len(t, ids, workers*6*2)

	var tab jobs.Table
	store.View(func(cur *jobs.Table) { tab = cur.Clone() })

	live := 0
	for _, id := range ids {
		want := false
		if j, ok := tab.Recurring[id]; ok {
			want = j.Active
		}
		if _, ok := tab.OneShot[id]; ok {
			want = true
		}
		if want {
			live++
		}
		assert.Equal(t, want, sched.Has(id), id)
	}
	assert.Len(t, sched.Snapshot().Entries, live)
}
