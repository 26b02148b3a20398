package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ResolveSecrets fills empty secrets from the environment variables named by
// the *_env fields. It never overwrites a value set in the file.
func (c *Config) ResolveSecrets() {
	fill := func(dst *string, env string) {
		if strings.TrimSpace(*dst) != "" || strings.TrimSpace(env) == "" {
			return
		}
		*dst = strings.TrimSpace(os.Getenv(env))
	}
	fill(&c.Telegram.Token, c.Telegram.TokenEnv)
	fill(&c.Storage.DSN, c.Storage.DSNEnv)
	fill(&c.Ops.Token, c.Ops.TokenEnv)
}

// Validate checks struct tags, durations and cross-field rules. Secrets are
// resolved first, so a token supplied only through token_env passes.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("invalid config: nil")
	}
	c.ResolveSecrets()

	var problems []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if strings.TrimSpace(c.Telegram.Token) == "" {
		problems = append(problems, "telegram.token is required (or set telegram.token_env)")
	}
	if c.Logging.Chat.Enabled && c.Telegram.LogChatID == 0 {
		problems = append(problems, "logging.chat requires telegram.log_chat_id")
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			problems = append(problems, "storage.path is required for driver "+c.Storage.Driver)
		}
	case "redis", "postgres", "postgresql", "pg":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			problems = append(problems, "storage.dsn is required for driver "+c.Storage.Driver)
		}
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("scheduler.timezone: %v", err))
		}
	}

	var d durations
	d.get("bot.command_timeout", c.Bot.CommandTimeout, 0)
	d.get("telegram.poll_timeout", c.Telegram.PollTimeout, 0)
	if iv := d.get("watch.interval", c.Watch.Interval, 0); iv > 0 && iv < time.Second {
		problems = append(problems, "watch.interval must be at least 1s")
	}
	d.get("watch.check_timeout", c.Watch.CheckTimeout, 0)
	d.get("status.timeout", c.Status.Timeout, 0)
	d.get("status.share_window", c.Status.ShareWindow, 0)
	d.get("storage.busy_timeout", c.Storage.BusyTimeout, 0)
	d.get("storage.dial_timeout", c.Storage.DialTimeout, 0)
	d.get("notifier.retry_base", c.Notifier.RetryBase, 0)
	d.get("notifier.retry_max_delay", c.Notifier.RetryMaxDelay, 0)
	d.get("notifier.send_timeout", c.Notifier.SendTimeout, 0)
	d.get("scheduler.max_spread", c.Scheduler.MaxSpread, 0)
	d.get("ops.read_timeout", c.Ops.ReadTimeout, 0)
	d.get("ops.write_timeout", c.Ops.WriteTimeout, 0)
	d.get("ops.idle_timeout", c.Ops.IdleTimeout, 0)
	problems = append(problems, d.errs...)

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := jsonPath(fe.Namespace())
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "url":
		return field + " must be a valid URL"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "hostname_port":
		return field + " must be host:port"
	case "gte", "lte":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

// jsonPath drops the root type from "Config.status.url".
func jsonPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
