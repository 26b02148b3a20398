// Package bot binds the chat commands and install hooks to the monitor
// registry and the subscriber store.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"roomwatch/internal/subscribers"
	"roomwatch/internal/transport"
	"roomwatch/internal/transport/telegram/router"
	"roomwatch/internal/watch"
	logx "roomwatch/pkg/logx"
)

const failureReply = "something went wrong, try again later"

type Config struct {
	// Name is used in the install greeting.
	Name string
}

type Bot struct {
	cfg  Config
	reg  *watch.Registry
	subs *subscribers.Store
	log  logx.Logger

	help func(args []string) string
}

func New(cfg Config, reg *watch.Registry, subs *subscribers.Store, log logx.Logger) *Bot {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "roomwatch"
	}
	return &Bot{cfg: cfg, reg: reg, subs: subs, log: log.With(logx.String("comp", "bot"))}
}

// Register installs the command set and membership hooks on m.
func (b *Bot) Register(m *router.CommandManager) {
	b.help = m.HelpText
	m.SetRegistry(b.Commands())
	m.OnInstall(b.onInstall)
	m.OnUninstall(b.onUninstall)
}

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "server",
			Aliases:     []string{"status"},
			Description: "Checks the server status. It will ping people on the subscriber list if the status changes",
			Usage:       "/server",
			Handle:      b.cmdServer,
		},
		{
			Name:        "help",
			Aliases:     []string{"h"},
			Description: "shows you what the commands do",
			Usage:       "/help [command]",
			Handle:      b.cmdHelp,
		},
		{
			Name:        "subs",
			Description: "Displays the ping names of people who will receive notification if the server status changes",
			Usage:       "/subs",
			Handle:      b.cmdSubs,
		},
		{
			Name:        "add",
			Description: "adds yourself to the subscriber list",
			Usage:       "/add",
			Handle:      b.cmdAdd,
		},
		{
			Name:        "remove",
			Description: "removes yourself from the subscriber list",
			Usage:       "/remove",
			Handle:      b.cmdRemove,
		},
		{
			Name:        "start",
			Description: "starts listening for server status changes",
			Usage:       "/start",
			Handle:      b.cmdStart,
		},
		{
			Name:        "stop",
			Description: "stops listening for server status changes",
			Usage:       "/stop",
			Handle:      b.cmdStop,
		},
	}
}

func (b *Bot) monitor(req *router.Request) *watch.Monitor {
	room, client := RoomKey(req.Chat)
	return b.reg.GetOrCreate(room, client)
}

func (b *Bot) cmdServer(ctx context.Context, req *router.Request) error {
	obs, err := b.monitor(req).CheckNow(ctx)
	if err != nil {
		_ = req.Reply(ctx, "couldn't check the server status right now", nil)
		return err
	}
	return req.Reply(ctx, obs.Text, &transport.SendOptions{DisablePreview: true})
}

func (b *Bot) cmdHelp(ctx context.Context, req *router.Request) error {
	if b.help == nil {
		return nil
	}
	return req.Reply(ctx, b.help(req.Args), &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
}

func (b *Bot) cmdSubs(ctx context.Context, req *router.Request) error {
	room, client := RoomKey(req.Chat)
	list, err := b.subs.List(ctx, room, client)
	if err != nil {
		_ = req.Reply(ctx, failureReply, nil)
		return err
	}
	if len(list) == 0 {
		return req.Reply(ctx, "There are no subscribers :(", nil)
	}
	var sb strings.Builder
	sb.WriteString("current subs are (ping names): ")
	for _, s := range list {
		sb.WriteString(" ")
		sb.WriteString(pingName(s))
	}
	return req.Reply(ctx, sb.String(), nil)
}

func (b *Bot) cmdAdd(ctx context.Context, req *router.Request) error {
	room, client := RoomKey(req.Chat)
	sub := sender(req)
	added, err := b.subs.Add(ctx, room, client, sub)
	if err != nil {
		_ = req.Reply(ctx, failureReply, nil)
		return err
	}
	if !added {
		return req.Reply(ctx, sub.DisplayName+" is already subscribed", nil)
	}
	return req.Reply(ctx, "added "+sub.DisplayName+" to subscriber list", nil)
}

func (b *Bot) cmdRemove(ctx context.Context, req *router.Request) error {
	room, client := RoomKey(req.Chat)
	sub := sender(req)
	removed, err := b.subs.Remove(ctx, room, client, sub.ID)
	if err != nil {
		_ = req.Reply(ctx, failureReply, nil)
		return err
	}
	if removed == nil {
		return req.Reply(ctx, sub.DisplayName+" wasn't subscribed", nil)
	}
	return req.Reply(ctx, sub.DisplayName+" has unsubscribed :(", nil)
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	err := b.monitor(req).Start()
	switch {
	case err == nil:
		return req.Reply(ctx, "I'll let you know if the server status changes", nil)
	case errors.Is(err, watch.ErrAlreadyWatching):
		return req.Reply(ctx, "I'm already listening for server changes", nil)
	default:
		_ = req.Reply(ctx, failureReply, nil)
		return err
	}
}

func (b *Bot) cmdStop(ctx context.Context, req *router.Request) error {
	room, client := RoomKey(req.Chat)
	m, ok := b.reg.Lookup(room, client)
	if !ok {
		return req.Reply(ctx, "I'm not listening for server changes", nil)
	}
	err := m.Stop()
	switch {
	case err == nil:
		return req.Reply(ctx, "I'm not listening for server changes anymore", nil)
	case errors.Is(err, watch.ErrNotWatching):
		return req.Reply(ctx, "I'm not listening for server changes", nil)
	default:
		_ = req.Reply(ctx, failureReply, nil)
		return err
	}
}

func (b *Bot) onInstall(ctx context.Context, req *router.Request) error {
	room, client := RoomKey(req.Chat)
	initErr := b.subs.Init(ctx, room, client)
	if initErr != nil {
		req.Logger.Error("subscriber init failed", logx.Err(initErr))
		initErr = fmt.Errorf("bot: install %s: %w", subscribers.Key(room, client), initErr)
	}
	if _, err := b.reg.GetOrCreate(room, client).Seed(ctx); err != nil {
		req.Logger.Warn("initial status check failed", logx.Err(err))
	}
	b.log.Info("installed", logx.String("client", client), logx.String("room", room), logx.Bool("subscribers_ready", initErr == nil))

	// The room is greeted even when the list could not be created; the error
	// still reaches the router's request log.
	if err := req.Reply(ctx, "The "+b.cfg.Name+" bot has been installed in this room", nil); err != nil {
		return errors.Join(initErr, err)
	}
	if err := req.Reply(ctx, "use /help to find out what I do", nil); err != nil {
		return errors.Join(initErr, err)
	}
	return initErr
}

func (b *Bot) onUninstall(ctx context.Context, req *router.Request) error {
	_, client := RoomKey(req.Chat)
	n, err := b.reg.Teardown(ctx, client)
	if err != nil {
		return err
	}
	b.log.Info("uninstalled", logx.String("client", client), logx.Int("monitors", n))
	return nil
}

// sender builds the subscriber entry for whoever sent the command.
func sender(req *router.Request) subscribers.Subscriber {
	s := subscribers.Subscriber{
		ID:            strconv.FormatInt(req.FromID, 10),
		DisplayName:   strings.TrimSpace(req.FromName),
		MentionHandle: strings.TrimSpace(req.FromUsername),
	}
	if s.DisplayName == "" {
		s.DisplayName = s.MentionHandle
	}
	if s.DisplayName == "" {
		s.DisplayName = s.ID
	}
	return s
}

func pingName(s subscribers.Subscriber) string {
	if h := strings.TrimPrefix(s.MentionHandle, "@"); h != "" {
		return h
	}
	return s.DisplayName
}
