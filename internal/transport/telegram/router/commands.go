package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "roomwatch/internal/runtime/supervisor"
	kit "roomwatch/internal/transport"
	logx "roomwatch/pkg/logx"
)

type Command struct {
	// Name is the single-token command word, e.g. "server".
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// Hidden commands are routable but left out of help and the menu.
	Hidden bool

	Timeout time.Duration // optional per-command override
	Handle  HandlerFunc
}

type Request struct {
	Update       kit.Update
	Chat         kit.ChatTarget
	FromID       int64
	FromUsername string
	FromName     string
	Command      string
	Args         []string

	// Parsed arguments
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool
	ReqID     string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text back to the room the request came from.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	if r.Adapter == nil {
		return nil
	}
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

type Options struct {
	// Workers defaults to NumCPU (at least 2).
	Workers   int
	QueueSize int
	// DefaultTimeout applies to commands without their own Timeout.
	DefaultTimeout time.Duration
	// BotUsername, when set, drops commands addressed to other bots (/cmd@other).
	BotUsername string
	// UnknownReply is sent for unknown commands. Empty disables the reply.
	UnknownReply string
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  []Command
	index map[string]int // name or alias -> position in cmds

	onInstall   HandlerFunc
	onUninstall HandlerFunc

	log     logx.Logger
	adapter kit.Adapter
	opts    Options

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	appSup  *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opts Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
		if opts.Workers < 2 {
			opts.Workers = 2
		}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	opts.BotUsername = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(opts.BotUsername), "@"))
	return &CommandManager{
		index:   map[string]int{},
		log:     log,
		adapter: adapter,
		opts:    opts,
		jobs:    make(chan func(), opts.QueueSize),
	}
}

// SetAppSupervisor makes background work (menu updates) run under sup so it
// is canceled on shutdown.
func (m *CommandManager) SetAppSupervisor(sup *rtsup.Supervisor) {
	m.runMu.Lock()
	m.appSup = sup
	m.runMu.Unlock()
}

// Supervisor returns the dispatcher's worker supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// OnInstall registers the handler run when the bot joins a chat.
func (m *CommandManager) OnInstall(h HandlerFunc) {
	m.mu.Lock()
	m.onInstall = h
	m.mu.Unlock()
}

// OnUninstall registers the handler run when the bot leaves or is removed from a chat.
func (m *CommandManager) OnUninstall(h HandlerFunc) {
	m.mu.Lock()
	m.onUninstall = h
	m.mu.Unlock()
}

// SetRegistry replaces the command set. A help command is injected unless
// cmds already defines one. Registration order is kept for help and the menu.
func (m *CommandManager) SetRegistry(cmds []Command) {
	list := make([]Command, 0, len(cmds)+1)
	index := map[string]int{}
	hasHelp := false

	add := func(c Command) {
		name := commandWord(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			return
		}
		if _, dup := index[name]; dup {
			m.log.Warn("duplicate command ignored", logx.String("cmd", name))
			return
		}
		c.Name = name
		pos := len(list)
		list = append(list, c)
		index[name] = pos
		if sn := sanitizeTelegramCommand(name); sn != "" && sn != name {
			if _, exists := index[sn]; !exists {
				index[sn] = pos
			}
		}
		for _, a := range c.Aliases {
			a = commandWord(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := index[a]; !exists {
				index[a] = pos
			}
		}
	}

	for _, c := range cmds {
		if commandWord(c.Name) == "help" {
			hasHelp = true
		}
		add(c)
	}
	if !hasHelp {
		add(Command{
			Name:        "help",
			Aliases:     []string{"h"},
			Description: "shows you what the commands do",
			Usage:       "/help [command]",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, m.HelpText(req.Args), &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
			},
		})
	}

	m.mu.Lock()
	m.cmds = list
	m.index = index
	m.mu.Unlock()

	up, ok := m.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := buildMenuCommands(list)
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
	}
	m.runMu.Lock()
	appSup := m.appSup
	m.runMu.Unlock()
	if appSup != nil {
		appSup.Go0("telegram.menu.update", run)
	} else {
		go run(context.Background())
	}
}

// Commands returns the registered commands in registration order.
func (m *CommandManager) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.cmds...)
}

func (m *CommandManager) lookup(word string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.index[word]
	if !ok {
		return Command{}, false
	}
	return m.cmds[pos], true
}

func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := m.opts.Workers

	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			m.setSupervisor(sup, false)
			close(m.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			m.log.Debug("command worker started", logx.Int("worker", idx))
			defer m.log.Debug("command worker stopped", logx.Int("worker", idx))
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				m.log.Info("updates channel closed")
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *CommandManager) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		m.routeMessage(root, up)
	case kit.UpdateInstalled, kit.UpdateUninstalled:
		m.routeInstall(root, up)
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	if at := strings.IndexByte(parts[0], '@'); at >= 0 && m.opts.BotUsername != "" {
		if strings.ToLower(parts[0][at+1:]) != m.opts.BotUsername {
			return
		}
	}
	word := commandWord(parts[0])
	args := []string{}
	if len(parts) > 1 {
		args = parts[1:]
	}

	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, ok := m.lookup(word)
	if !ok {
		if m.opts.UnknownReply != "" {
			_, _ = m.adapter.SendText(root, chat, m.opts.UnknownReply, nil)
		}
		return
	}

	pos, flags, bools := parseFlags(args)
	rid := newReqID()
	req := &Request{
		Update:       up,
		Chat:         chat,
		FromID:       msg.FromID,
		FromUsername: msg.FromUsername,
		FromName:     msg.FromName,
		Command:      cmd.Name,
		Args:         pos,
		RawArgs:      args,
		Flags:        flags,
		BoolFlags:    bools,
		ReqID:        rid,
		Adapter:      m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}
	final := Chain(cmd.Handle, Recover(m.log), Trace(m.log), Deadline(timeout))
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, chat, "busy, try again", nil)
	}
}

func (m *CommandManager) routeInstall(root context.Context, up kit.Update) {
	if up.Install == nil {
		return
	}
	m.mu.RLock()
	h := m.onInstall
	if up.Kind == kit.UpdateUninstalled {
		h = m.onUninstall
	}
	m.mu.RUnlock()
	if h == nil {
		return
	}

	in := up.Install
	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: in.ChatID, ThreadID: in.ThreadID},
		FromID:  in.ByID,
		Command: string(up.Kind),
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", in.ChatID),
			logx.String("cmd", string(up.Kind)),
		),
	}
	final := Chain(h, Recover(m.log), Trace(m.log), Deadline(m.opts.DefaultTimeout))
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		// Membership changes must not be lost; run inline.
		_ = final(root, req)
	}
}
