package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "roomwatch/internal/runtime/supervisor"
	kit "roomwatch/internal/transport"
	logx "roomwatch/pkg/logx"
)

// Config configures the Telegram long-poll adapter.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// APIURL overrides https://api.telegram.org (tests, local bot API servers).
	APIURL string
	// LogChatID receives log lines from the logx chat sink when non-zero.
	LogChatID   int64
	LogThreadID int
	// Offline skips the getMe call on construction.
	Offline bool
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
	http     *http.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	a := &Adapter{cfg: cfg, log: log, http: &http.Client{Timeout: 8 * time.Second}}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout, AllowedUpdates: []string{"message", "my_chat_member"}},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			a.log.Warn("telebot handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Supervisor returns the adapter's goroutine supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		if up, ok := messageUpdate(c.Message()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		if up, ok := memberUpdate(c.ChatMember()); ok {
			a.sendUpdate(up)
		}
		return nil
	})
}

func messageUpdate(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil {
		return kit.Update{}, false
	}
	msg := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Text:     m.Text,
		IsGroup:  m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
	if u := m.Sender; u != nil {
		msg.FromID = u.ID
		msg.FromUsername = u.Username
		msg.FromName = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: msg}, true
}

// memberUpdate maps a change of the bot's own membership to install/uninstall.
func memberUpdate(u *tele.ChatMemberUpdate) (kit.Update, bool) {
	if u == nil || u.Chat == nil || u.NewChatMember == nil {
		return kit.Update{}, false
	}
	in := &kit.Install{ChatID: u.Chat.ID, ChatTitle: u.Chat.Title}
	if u.Sender != nil {
		in.ByID = u.Sender.ID
	}
	wasIn := u.OldChatMember != nil && present(u.OldChatMember.Role)
	isIn := present(u.NewChatMember.Role)
	switch {
	case isIn && !wasIn:
		return kit.Update{Kind: kit.UpdateInstalled, Install: in}, true
	case !isIn && wasIn:
		return kit.Update{Kind: kit.UpdateUninstalled, Install: in}, true
	default:
		return kit.Update{}, false
	}
}

func present(r tele.MemberStatus) bool {
	switch r {
	case tele.Left, tele.Kicked, "":
		return false
	default:
		return true
	}
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	report := func() {
		if n := a.droppedUpdates.Swap(0); n > 0 {
			a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
		}
	}
	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; restart it if it returns on its own.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// getUpdates may still be long-polling; do not hold shutdown for it.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitText cuts s into chunks of at most limit runes, preferring a newline
// in the last two thirds of each window.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
		ThreadID:              to.ThreadID,
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOptions(to, opt))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendLog posts a log line to the configured ops chat. It implements logx.ChatSender.
func (a *Adapter) SendLog(ctx context.Context, text string) error {
	if a.cfg.LogChatID == 0 {
		return nil
	}
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: a.cfg.LogChatID, ThreadID: a.cfg.LogThreadID}, text, &kit.SendOptions{Silent: true, DisablePreview: true})
	return err
}

// UpdateMenuCommands calls setMyCommands, skipping the request when the list
// is unchanged since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	sum := menuHash(cmds)
	if sum == a.menuHash {
		return nil
	}

	type cmd struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
	payload := struct {
		Commands []cmd `json:"commands"`
	}{Commands: make([]cmd, 0, len(cmds))}
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		payload.Commands = append(payload.Commands, cmd{Command: c.Command, Description: d})
		if len(payload.Commands) >= 100 {
			break
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	base := strings.TrimRight(a.cfg.APIURL, "/")
	if base == "" {
		base = tele.DefaultApiURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/bot"+strings.TrimSpace(a.cfg.Token)+"/setMyCommands", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram setMyCommands failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram setMyCommands failed: http=%d", resp.StatusCode)
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(payload.Commands)))
	return nil
}

func menuHash(cmds []kit.BotCommand) uint64 {
	h := fnv.New64a()
	for _, c := range cmds {
		_, _ = h.Write([]byte(c.Command))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(c.Description))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
