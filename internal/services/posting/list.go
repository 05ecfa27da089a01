package posting

import (
	"time"

	"github.com/samber/lo"

	"postbot/internal/jobs"
	"postbot/internal/recurrence"
)

const createdLayout = "2006-01-02 15:04:05"

type ChannelView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Username    string `json:"username"`
	Subscribers int    `json:"subscribers"`
	Posts       int    `json:"posts"`
	Scheduled   int    `json:"scheduled"`
	SentTotal   int    `json:"sent_total"`
}

type OneShotView struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Datetime  string `json:"datetime"`
	ChannelID string `json:"channel_id"`
	CreatedAt string `json:"created_at"`
	Missed    bool   `json:"missed"`
}

type RecurringView struct {
	ID        string                `json:"id"`
	Content   string                `json:"content"`
	Cron      string                `json:"cron"`
	ChannelID string                `json:"channel_id"`
	Active    bool                  `json:"active"`
	CreatedAt string                `json:"created_at"`
	Recurring recurrence.Recurrence `json:"recurring"`
	NextRun   string                `json:"next_run,omitempty"`
}

type Stats struct {
	SentTotal    int  `json:"sent_total"`
	IsSubscribed bool `json:"is_subscribed"`
	IsAdmin      bool `json:"is_admin"`
}

// UserData is the get_user_data payload.
type UserData struct {
	Channels  []ChannelView   `json:"channels"`
	Scheduled []OneShotView   `json:"scheduled"`
	Recurring []RecurringView `json:"recurring"`
	Drafts    []any           `json:"drafts"`
	Stats     Stats           `json:"stats"`
}

// List builds the owner's view. Stats.IsAdmin is left for the caller.
func (s *Service) List(owner string) UserData {
	var (
		once    []jobs.OneShot
		rec     []jobs.Recurring
		channel string
		bound   bool
		sent    int
	)
	s.store.View(func(t *jobs.Table) {
		once, rec = jobs.ListOwned(t, owner)
		channel, bound = t.Channels[owner]
		sent = t.Sent[owner]
	})

	now := s.now()
	out := UserData{
		Channels: []ChannelView{},
		Drafts:   []any{},
		Stats:    Stats{SentTotal: sent, IsSubscribed: true},
	}
	out.Scheduled = lo.Map(once, func(j jobs.OneShot, _ int) OneShotView {
		return OneShotView{
			ID:        j.ID,
			Content:   j.Content,
			Datetime:  j.FireAt.In(s.loc).Format(TimestampLayout),
			ChannelID: j.Destination,
			CreatedAt: j.CreatedAt.In(s.loc).Format(createdLayout),
			Missed:    !j.FireAt.After(now) && !s.sched.Has(j.ID),
		}
	})
	out.Recurring = lo.Map(rec, func(j jobs.Recurring, _ int) RecurringView {
		v := RecurringView{
			ID:        j.ID,
			Content:   j.Content,
			Cron:      j.Schedule,
			ChannelID: j.Destination,
			Active:    j.Active,
			CreatedAt: j.CreatedAt.In(s.loc).Format(createdLayout),
			Recurring: recurrence.Decode(j.Schedule),
		}
		if next, ok := s.sched.Next(j.ID); ok && !next.IsZero() {
			v.NextRun = next.In(s.loc).Format(time.RFC3339)
		}
		return v
	})
	if bound {
		out.Channels = append(out.Channels, ChannelView{
			ID:        channel,
			Title:     channel,
			Username:  channel,
			Scheduled: len(once),
			SentTotal: sent,
		})
	}
	return out
}
