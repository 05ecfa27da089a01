package app

import (
	"context"
	"strings"

	"postbot/internal/config"
	"postbot/internal/eventbus"
	logx "postbot/pkg/logx"
)

// startReload applies hot-reloaded config. Logging and the admin list change
// live; other sections are logged as needing a restart.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.Summarize(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	r, err := next.Resolve()
	if err != nil {
		a.log.Warn("reloaded config does not resolve; keeping previous", logx.Err(err))
		return
	}
	a.logs.Apply(logConfig(next, r))
	a.auth.SetAdmins(next.Telegram.AdminUserIDs)

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections need a restart to take effect", logx.Strings("sections", restart))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
}
