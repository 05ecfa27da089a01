package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "postbot/pkg/logx"
)

// Action is invoked with the job id when its trigger fires.
type Action func(id string)

type entryKind string

const (
	kindOnce entryKind = "once"
	kindCron entryKind = "cron"
)

type entry struct {
	id      string
	kind    entryKind
	spec    string // as persisted (Monday=0)
	at      time.Time
	action  Action
	ver     uint64
	timer   *time.Timer
	cronID  cron.EntryID
	armedAt time.Time
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron

	started bool
	stopped bool
	seq     uint64
	entries map[string]*entry
}

// EntryInfo describes one armed trigger.
type EntryInfo struct {
	ID   string    `json:"id"`
	Kind string    `json:"kind"`
	Spec string    `json:"spec,omitempty"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitempty"`
}

type Snapshot struct {
	Timezone string      `json:"timezone"`
	Running  bool        `json:"running"`
	Entries  []EntryInfo `json:"entries"`
}
