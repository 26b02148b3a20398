package config

import (
	"reflect"
	"strings"

	logx "roomwatch/pkg/logx"
)

// SummarizeChange returns the top-level sections that differ plus a few
// log-safe attributes describing the new values. Secrets are reported only
// as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Bot, newCfg.Bot) {
		changed = append(changed, "bot")
		attrs = append(attrs, logx.String("bot.name", newCfg.Bot.Name))
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.PollTimeout != nt.PollTimeout || ot.APIURL != nt.APIURL ||
		ot.LogChatID != nt.LogChatID || ot.LogThreadID != nt.LogThreadID ||
		ot.TokenEnv != nt.TokenEnv || ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.log_chat_set", nt.LogChatID != 0),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Watch, newCfg.Watch) {
		changed = append(changed, "watch")
		attrs = append(attrs, logx.String("watch.interval", newCfg.Watch.Interval))
	}

	if !reflect.DeepEqual(oldCfg.Status, newCfg.Status) {
		changed = append(changed, "status")
		attrs = append(attrs, logx.String("status.extractor", newCfg.Status.Extractor))
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Int("notifier.workers", newCfg.Notifier.Workers))
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	}

	no := newCfg.Ops
	if oldCfg.Ops != no {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", no.Addr),
			logx.Bool("ops.token_set", no.Token != ""),
		)
	}

	return changed, attrs
}

// RestartRequired reports sections that cannot be applied live.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "telegram", "bot":
			out = append(out, s)
		}
	}
	return out
}
