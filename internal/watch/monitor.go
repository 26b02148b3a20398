// Package watch runs the per-room poll, debounce and notify loop.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"roomwatch/internal/eventbus"
	"roomwatch/internal/status"
	"roomwatch/internal/subscribers"
	"roomwatch/internal/transport"
	logx "roomwatch/pkg/logx"
)

const (
	DefaultInterval     = 10 * time.Second
	DefaultCheckTimeout = 8 * time.Second
)

// Key identifies one room of one installed client.
type Key struct {
	ClientID string `json:"client_id"`
	RoomID   string `json:"room_id"`
}

func (k Key) String() string { return k.ClientID + ":" + k.RoomID }

func (k Key) jobName() string { return "watch:" + k.String() }

// Scheduler runs job every interval until the returned cancel is called.
type Scheduler interface {
	Every(name string, every time.Duration, job func(ctx context.Context)) (cancel func(), err error)
}

// NotifyOptions mirror what the chat side can express for a room message.
type NotifyOptions struct {
	// Notify pings subscribers (audible delivery); false sends silently.
	Notify bool
	Color  transport.Color
}

type Notifier interface {
	Send(ctx context.Context, key Key, text string, opts NotifyOptions) error
}

type SubscriberLister interface {
	List(ctx context.Context, room, client string) ([]subscribers.Subscriber, error)
}

// Config holds per-monitor tunables. Zero values take the defaults.
type Config struct {
	Interval     time.Duration
	HistorySize  int
	CheckTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	return c
}

// Deps are the collaborators shared by every monitor.
type Deps struct {
	Provider    status.Provider
	Scheduler   Scheduler
	Notifier    Notifier
	Subscribers SubscriberLister
	Bus         eventbus.Bus
	Log         logx.Logger
}

// Event is the payload of watch.* bus events.
type Event struct {
	Key      Key    `json:"key"`
	Code     string `json:"code,omitempty"`
	Text     string `json:"text,omitempty"`
	Recovery bool   `json:"recovery,omitempty"`
	Error    string `json:"error,omitempty"`
}

// State is a point-in-time view of a monitor.
type State struct {
	Key           Key                 `json:"key"`
	Watching      bool                `json:"watching"`
	Since         time.Time           `json:"since,omitempty"`
	History       []status.Code       `json:"history"`
	Last          *status.Observation `json:"last,omitempty"`
	LastCheck     time.Time           `json:"last_check,omitempty"`
	LastError     string              `json:"last_error,omitempty"`
	Ticks         uint64              `json:"ticks"`
	Notifications uint64              `json:"notifications"`
	Failures      uint64              `json:"failures"`
}

// Monitor owns the debounce window and the recurring tick of one room.
//
// Lock order: ctlMu before mu, tickMu before mu. ctlMu serializes Start and
// Stop and is held across scheduler calls; ticks never take it. The provider
// call, scheduler calls and notifier sends happen without mu so Stop and
// Snapshot never wait on I/O.
type Monitor struct {
	key  Key
	deps Deps
	log  logx.Logger

	ctlMu  sync.Mutex
	tickMu sync.Mutex

	mu        sync.Mutex
	cfg       Config
	running   bool
	gen       uint64
	cancel    func()
	since     time.Time
	history   *History
	last      *status.Observation
	lastCheck time.Time
	lastErr   string
	ticks     uint64
	notified  uint64
	failures  uint64
}

func newMonitor(key Key, cfg Config, deps Deps) *Monitor {
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		key:     key,
		deps:    deps,
		log:     log.With(logx.String("client", key.ClientID), logx.String("room", key.RoomID)),
		cfg:     cfg,
		history: NewHistory(cfg.HistorySize),
	}
}

func (m *Monitor) Key() Key { return m.key }

func (m *Monitor) Watching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start moves Stopped to Watching, clears the window and schedules the tick.
func (m *Monitor) Start() error {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyWatching
	}
	if m.deps.Scheduler == nil {
		m.mu.Unlock()
		return errors.New("watch: no scheduler")
	}
	m.gen++
	gen := m.gen
	interval := m.cfg.Interval
	m.mu.Unlock()

	// Ticks of gen stay inert until running is set below.
	cancel, err := m.deps.Scheduler.Every(m.key.jobName(), interval, func(ctx context.Context) {
		m.tick(ctx, gen)
	})
	if err != nil {
		return fmt.Errorf("watch: schedule %s: %w", m.key, err)
	}

	m.mu.Lock()
	m.history.Clear()
	m.running = true
	m.cancel = cancel
	m.since = time.Now()
	m.mu.Unlock()

	m.log.Info("watch started", logx.Duration("interval", interval))
	m.publish("watch.started", Event{Key: m.key})
	return nil
}

// Stop moves Watching to Stopped. Once it returns no further tick of this
// start generation records or notifies anything. History and the last
// observation are kept.
func (m *Monitor) Stop() error {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotWatching
	}
	m.running = false
	m.gen++
	cancel := m.cancel
	m.cancel = nil
	m.since = time.Now()
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.log.Info("watch stopped")
	m.publish("watch.stopped", Event{Key: m.key})
	return nil
}

// CheckNow polls the provider once on demand. The caller reports the result
// unconditionally. While the monitor is stopped the result also primes the
// window and becomes the last observation.
func (m *Monitor) CheckNow(ctx context.Context) (status.Observation, error) {
	obs, err := m.check(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCheck = time.Now()
	if err != nil {
		m.failures++
		m.lastErr = err.Error()
		return status.Observation{}, err
	}
	if !m.running {
		m.history.Record(obs.Code)
		m.last = &obs
		m.lastErr = ""
	}
	return obs, nil
}

// Seed performs one check and stores it as the last observation without
// touching the window. Used when the bot is installed into a room.
func (m *Monitor) Seed(ctx context.Context) (status.Observation, error) {
	obs, err := m.check(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCheck = time.Now()
	if err != nil {
		m.failures++
		m.lastErr = err.Error()
		return status.Observation{}, err
	}
	m.last = &obs
	m.lastErr = ""
	return obs, nil
}

// Snapshot returns a copy of the monitor state.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := State{
		Key:           m.key,
		Watching:      m.running,
		Since:         m.since,
		History:       m.history.Codes(),
		LastCheck:     m.lastCheck,
		LastError:     m.lastErr,
		Ticks:         m.ticks,
		Notifications: m.notified,
		Failures:      m.failures,
	}
	if m.last != nil {
		last := *m.last
		st.Last = &last
	}
	return st
}

// apply updates tunables. A new interval takes effect on the next Start.
func (m *Monitor) apply(cfg Config) {
	cfg = cfg.withDefaults()
	m.mu.Lock()
	m.cfg.Interval = cfg.Interval
	m.cfg.CheckTimeout = cfg.CheckTimeout
	m.mu.Unlock()
}

type decision struct {
	obs       status.Observation
	announce  bool
	recovered bool
}

func (m *Monitor) tick(ctx context.Context, gen uint64) {
	if !m.tickMu.TryLock() {
		m.log.Debug("tick skipped; previous tick still running")
		return
	}
	defer m.tickMu.Unlock()

	if !m.current(gen) {
		return
	}

	obs, err := m.check(ctx)

	m.mu.Lock()
	if !m.running || m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.ticks++
	m.lastCheck = time.Now()
	if err != nil {
		m.failures++
		m.lastErr = err.Error()
		m.mu.Unlock()
		m.log.Warn("status check failed; tick skipped", logx.Err(err))
		m.publish("watch.check_failed", Event{Key: m.key, Error: err.Error()})
		return
	}
	d := m.decideLocked(obs)
	m.mu.Unlock()

	m.publish("watch.tick", Event{Key: m.key, Code: obs.Code.String(), Text: obs.Text})
	m.deliver(ctx, d)
}

// decideLocked applies the debounce and recovery rules to one observation.
// A code absent from the window is announced. Online after Offline or
// Unstable also triggers a recovery message. Online resets the window before
// being recorded.
func (m *Monitor) decideLocked(obs status.Observation) decision {
	d := decision{obs: obs, announce: !m.history.SeenRecently(obs.Code)}
	if obs.Code == status.Online {
		d.recovered = m.history.SeenRecently(status.Unstable) || m.history.SeenRecently(status.Offline)
		m.history.Clear()
	}
	m.history.Record(obs.Code)
	m.last = &obs
	m.lastErr = ""
	return d
}

func (m *Monitor) deliver(ctx context.Context, d decision) {
	if !d.announce && !d.recovered {
		m.log.Debug("status seen recently", logx.String("code", d.obs.Code.String()))
		return
	}
	var subs []subscribers.Subscriber
	if m.deps.Subscribers != nil {
		list, err := m.deps.Subscribers.List(ctx, m.key.RoomID, m.key.ClientID)
		if err != nil {
			m.log.Warn("subscriber list unavailable; notifying without pings", logx.Err(err))
		}
		subs = list
	}
	text := d.obs.Text + subscribers.Mentions(subs)

	if d.announce {
		m.send(ctx, text, colorFor(d.obs.Code), false, d.obs)
	}
	if d.recovered {
		m.send(ctx, text, transport.ColorGreen, true, d.obs)
	}
}

func (m *Monitor) send(ctx context.Context, text string, color transport.Color, recovery bool, obs status.Observation) {
	if m.deps.Notifier == nil {
		return
	}
	err := m.deps.Notifier.Send(ctx, m.key, text, NotifyOptions{Notify: true, Color: color})
	if err != nil {
		m.log.Warn("notification failed", logx.Err(err), logx.Bool("recovery", recovery))
		return
	}
	m.mu.Lock()
	m.notified++
	m.mu.Unlock()
	m.log.Info("status change announced", logx.String("code", obs.Code.String()), logx.Bool("recovery", recovery))
	m.publish("watch.notified", Event{Key: m.key, Code: obs.Code.String(), Text: obs.Text, Recovery: recovery})
}

func (m *Monitor) check(ctx context.Context) (status.Observation, error) {
	if m.deps.Provider == nil {
		return status.Observation{}, errors.New("watch: no status provider")
	}
	m.mu.Lock()
	timeout := m.cfg.CheckTimeout
	m.mu.Unlock()
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	obs, err := m.deps.Provider.Check(cctx)
	if err != nil {
		return status.Observation{}, err
	}
	if obs.CheckedAt.IsZero() {
		obs.CheckedAt = time.Now()
	}
	return obs, nil
}

func (m *Monitor) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running && m.gen == gen
}

func (m *Monitor) publish(typ string, ev Event) {
	if m.deps.Bus == nil {
		return
	}
	m.deps.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

func colorFor(c status.Code) transport.Color {
	switch c {
	case status.Online:
		return transport.ColorGreen
	case status.Offline:
		return transport.ColorRed
	case status.Unstable:
		return transport.ColorYellow
	default:
		return transport.ColorNone
	}
}
