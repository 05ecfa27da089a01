package scheduler

import (
	"sort"
)

// Snapshot lists armed entries ordered by next firing.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{Timezone: s.loc.String(), Running: s.started && !s.stopped}
	out.Entries = make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		it := EntryInfo{ID: e.id, Kind: string(e.kind), Spec: e.spec, Next: s.nextLocked(e)}
		if e.kind == kindCron && s.started {
			it.Prev = s.c.Entry(e.cronID).Prev
		}
		out.Entries = append(out.Entries, it)
	}
	sort.Slice(out.Entries, func(i, j int) bool {
		if !out.Entries[i].Next.Equal(out.Entries[j].Next) {
			return out.Entries[i].Next.Before(out.Entries[j].Next)
		}
		return out.Entries[i].ID < out.Entries[j].ID
	})
	return out
}
