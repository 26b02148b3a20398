package config

import (
	"time"

	"roomwatch/internal/notifier"
	"roomwatch/internal/observability/ops"
	"roomwatch/internal/status"
	"roomwatch/internal/storage"
	"roomwatch/internal/task/scheduler"
	"roomwatch/internal/watch"
	logx "roomwatch/pkg/logx"
)

// The runtime views below assume Validate passed; bad durations fall back
// to their defaults.

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    c.Logging.Chat.Enabled,
			MinLevel:   c.Logging.Chat.MinLevel,
			RatePerSec: c.Logging.Chat.RatePerSec,
		},
	}
}

func (c *Config) WatchConfig() watch.Config {
	var d durations
	return watch.Config{
		Interval:     d.get("watch.interval", c.Watch.Interval, watch.DefaultInterval),
		HistorySize:  c.Watch.HistorySize,
		CheckTimeout: d.get("watch.check_timeout", c.Watch.CheckTimeout, watch.DefaultCheckTimeout),
	}
}

func (c *Config) StatusConfig() status.HTTPConfig {
	var d durations
	kw := status.DefaultKeywords()
	if len(c.Status.Keywords.Online) > 0 {
		kw.Online = c.Status.Keywords.Online
	}
	if len(c.Status.Keywords.Offline) > 0 {
		kw.Offline = c.Status.Keywords.Offline
	}
	if len(c.Status.Keywords.Unstable) > 0 {
		kw.Unstable = c.Status.Keywords.Unstable
	}
	return status.HTTPConfig{
		URL:       c.Status.URL,
		Extractor: c.Status.Extractor,
		Keywords:  kw,
		Timeout:   d.get("status.timeout", c.Status.Timeout, 0),
		MaxBody:   c.Status.MaxBody,
		UserAgent: c.Status.UserAgent,
	}
}

// ShareWindow is how long one status fetch is reused across rooms.
func (c *Config) ShareWindow() time.Duration {
	var d durations
	return d.get("status.share_window", c.Status.ShareWindow, 2*time.Second)
}

func (c *Config) StorageConfig() storage.Config {
	var d durations
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		DSN:         c.Storage.DSN,
		Namespace:   c.Storage.Namespace,
		BusyTimeout: d.get("storage.busy_timeout", c.Storage.BusyTimeout, 0),
		DialTimeout: d.get("storage.dial_timeout", c.Storage.DialTimeout, 0),
	}
}

func (c *Config) NotifierConfig() notifier.Config {
	var d durations
	enabled := true
	if c.Notifier.Enabled != nil {
		enabled = *c.Notifier.Enabled
	}
	return notifier.Config{
		Enabled:       enabled,
		Workers:       c.Notifier.Workers,
		QueueSize:     c.Notifier.QueueSize,
		RatePerSec:    c.Notifier.RatePerSec,
		RetryMax:      c.Notifier.RetryMax,
		RetryBase:     d.get("notifier.retry_base", c.Notifier.RetryBase, 0),
		RetryMaxDelay: d.get("notifier.retry_max_delay", c.Notifier.RetryMaxDelay, 0),
		SendTimeout:   d.get("notifier.send_timeout", c.Notifier.SendTimeout, 0),
	}
}

func (c *Config) SchedulerConfig() scheduler.Config {
	var d durations
	return scheduler.Config{
		Timezone:  c.Scheduler.Timezone,
		MaxSpread: d.get("scheduler.max_spread", c.Scheduler.MaxSpread, 0),
	}
}

func (c *Config) OpsConfig() ops.Config {
	var d durations
	return ops.Config{
		Enabled:       c.Ops.Enabled,
		Addr:          c.Ops.Addr,
		Token:         c.Ops.Token,
		AllowInsecure: c.Ops.AllowInsecure,
		Pprof:         c.Ops.Pprof,
		ReadTimeout:   d.get("ops.read_timeout", c.Ops.ReadTimeout, 10*time.Second),
		WriteTimeout:  d.get("ops.write_timeout", c.Ops.WriteTimeout, 0),
		IdleTimeout:   d.get("ops.idle_timeout", c.Ops.IdleTimeout, 60*time.Second),
	}
}

func (c *Config) PollTimeout() time.Duration {
	var d durations
	return d.get("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
}

func (c *Config) CommandTimeout() time.Duration {
	var d durations
	return d.get("bot.command_timeout", c.Bot.CommandTimeout, 30*time.Second)
}
