package scheduler

import (
	"fmt"

	logx "postbot/pkg/logx"
)

// cronLogger adapts logx to cron.Logger. robfig's Info lines are per-tick
// noise, so they go to Debug.
type cronLogger struct{ l logx.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug(msg, fields(kv)...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, append(fields(kv), logx.Err(err))...)
}

func fields(kv []any) []logx.Field {
	if len(kv)%2 != 0 {
		return []logx.Field{logx.Any("data", kv)}
	}
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
