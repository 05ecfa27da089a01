package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"postbot/internal/transport"
)

const groupMessageLimit = 3500

// groupSink forwards warnings and errors to a Telegram log group. Writes
// enqueue and return immediately; a full queue drops the line.
type groupSink struct {
	sender transport.Sender
	queue  chan groupLine

	mu       sync.Mutex
	to       transport.ChatTarget
	minLevel Level
	limiter  *rate.Limiter

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

type groupLine struct {
	to   transport.ChatTarget
	text string
}

func newGroupSink(sender transport.Sender) *groupSink {
	if sender == nil {
		return nil
	}
	return &groupSink{
		sender:   sender,
		queue:    make(chan groupLine, 256),
		minLevel: LevelWarn,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (g *groupSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	g.mu.Lock()
	g.to = transport.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	g.minLevel = ParseLevel(cfg.MinLevel, LevelWarn)
	g.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	g.mu.Unlock()

	g.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		g.cancel = cancel
		g.done = make(chan struct{})
		go g.run(ctx)
	})
}

func (g *groupSink) run(ctx context.Context) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-g.queue:
			_, _ = g.sender.SendText(ctx, l.to, l.text, &transport.SendOptions{DisablePreview: true, Silent: true})
		}
	}
}

func (g *groupSink) close() {
	if g.cancel != nil {
		g.cancel()
		<-g.done
	}
}

func (g *groupSink) Write(p []byte) (int, error) {
	return g.WriteLevel(zerolog.InfoLevel, p)
}

func (g *groupSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	g.mu.Lock()
	to, minLevel, lim := g.to, g.minLevel, g.limiter
	g.mu.Unlock()

	if to.IsZero() || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := formatGroupLine(p); text != "" {
		select {
		case g.queue <- groupLine{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatGroupLine renders a zerolog JSON line as "[LEVEL] msg" followed by
// one "- key=value" line per field, sorted by key.
func formatGroupLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), groupMessageLimit)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.TimestampFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		limit := 600
		if k == "stack" {
			limit = 900
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), limit))
	}
	return truncate(b.String(), groupMessageLimit)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
