package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"roomwatch/internal/eventbus"
	"roomwatch/internal/status"
	"roomwatch/internal/storage"
	"roomwatch/internal/subscribers"
	"roomwatch/internal/task/scheduler"
	"roomwatch/internal/transport"
	logx "roomwatch/pkg/logx"
)

type fakeJob struct {
	run func(ctx context.Context)
}

// fakeScheduler records registrations; tests fire ticks by hand.
type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]*fakeJob
}

func newFakeScheduler() *fakeScheduler { return &fakeScheduler{jobs: map[string]*fakeJob{}} }

func (f *fakeScheduler) Every(name string, _ time.Duration, job func(ctx context.Context)) (func(), error) {
	j := &fakeJob{run: job}
	f.mu.Lock()
	f.jobs[name] = j
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		if f.jobs[name] == j {
			delete(f.jobs, name)
		}
		f.mu.Unlock()
	}, nil
}

func (f *fakeScheduler) job(name string) *fakeJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[name]
}

// fire runs one tick of key if it is scheduled.
func (f *fakeScheduler) fire(k Key) bool {
	j := f.job(k.jobName())
	if j == nil {
		return false
	}
	j.run(context.Background())
	return true
}

type sent struct {
	key  Key
	text string
	opts NotifyOptions
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, key Key, text string, opts NotifyOptions) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sent{key: key, text: text, opts: opts})
	return nil
}

func (n *recordingNotifier) all() []sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sent(nil), n.sent...)
}

func (n *recordingNotifier) forKey(k Key) []sent {
	var out []sent
	for _, s := range n.all() {
		if s.key == k {
			out = append(out, s)
		}
	}
	return out
}

// scripted returns the given codes in order, then repeats the last one.
type scripted struct {
	mu    sync.Mutex
	codes []status.Code
	calls int
}

func (s *scripted) Check(context.Context) (status.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.codes) {
		i = len(s.codes) - 1
	}
	s.calls++
	c := s.codes[i]
	return status.Observation{Code: c, Text: c.String()}, nil
}

type harness struct {
	reg   *Registry
	sched *fakeScheduler
	note  *recordingNotifier
	subs  *subscribers.Store
	bus   eventbus.Bus
}

func newHarness(p status.Provider) *harness {
	h := &harness{
		sched: newFakeScheduler(),
		note:  &recordingNotifier{},
		subs:  subscribers.New(storage.NewMemory(), logx.Nop()),
		bus:   eventbus.New(),
	}
	h.reg = NewRegistry(Config{}, Deps{
		Provider:    p,
		Scheduler:   h.sched,
		Notifier:    h.note,
		Subscribers: h.subs,
		Bus:         h.bus,
		Log:         logx.Nop(),
	}, h.subs)
	return h
}

func TestStartClearsHistoryAndRejectsDoubleStart(t *testing.T) {
	h := newHarness(status.Static(status.Offline, "Offline"))
	m := h.reg.GetOrCreate("r1", "c1")

	if _, err := m.CheckNow(context.Background()); err != nil {
		t.Fatalf("CheckNow: %v", err)
	}
	if got := m.Snapshot().History; len(got) != 1 {
		t.Fatalf("stopped CheckNow should prime history, got %v", got)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := m.Snapshot()
	if !st.Watching || len(st.History) != 0 {
		t.Fatalf("after Start: watching=%v history=%v", st.Watching, st.History)
	}
	if err := m.Start(); !errors.Is(err, ErrAlreadyWatching) {
		t.Fatalf("second Start = %v, want ErrAlreadyWatching", err)
	}
	if !h.reg.IsWatching("r1", "c1") {
		t.Fatal("registry does not report watching")
	}
}

func TestStopCancelsTicks(t *testing.T) {
	h := newHarness(status.Static(status.Offline, "Offline"))
	m := h.reg.GetOrCreate("r1", "c1")
	if err := m.Stop(); !errors.Is(err, ErrNotWatching) {
		t.Fatalf("Stop on stopped = %v, want ErrNotWatching", err)
	}

	_ = m.Start()
	stale := h.sched.job(m.key.jobName())
	if !h.sched.fire(m.key) {
		t.Fatal("tick not scheduled")
	}
	if n := len(h.note.all()); n != 1 {
		t.Fatalf("notifications before stop = %d, want 1", n)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if h.sched.fire(m.key) {
		t.Fatal("tick still scheduled after Stop")
	}
	// A tick that was already dispatched when Stop returned must not act.
	stale.run(context.Background())
	if n := len(h.note.all()); n != 1 {
		t.Fatalf("notifications after stop = %d, want 1", n)
	}
	st := m.Snapshot()
	if st.Watching || st.Last == nil || st.Last.Code != status.Offline {
		t.Fatalf("state after stop = %+v", st)
	}
	if len(st.History) != 1 {
		t.Fatalf("Stop must keep history, got %v", st.History)
	}
}

func TestRestartStartsFreshGeneration(t *testing.T) {
	h := newHarness(status.Static(status.Unstable, "Unstable"))
	m := h.reg.GetOrCreate("r1", "c1")
	_ = m.Start()
	stale := h.sched.job(m.key.jobName())
	_ = m.Stop()
	_ = m.Start()

	stale.run(context.Background())
	if n := len(h.note.all()); n != 0 {
		t.Fatalf("tick from previous start notified %d times", n)
	}
	h.sched.fire(m.key)
	if n := len(h.note.all()); n != 1 {
		t.Fatalf("current tick notified %d times, want 1", n)
	}
}

func TestRecoveryScenario(t *testing.T) {
	p := &scripted{codes: []status.Code{status.Offline, status.Offline, status.Unstable, status.Online}}
	h := newHarness(p)
	ctx := context.Background()
	if _, err := h.subs.Add(ctx, "r1", "c1", subscribers.Subscriber{ID: "u1", DisplayName: "Alice", MentionHandle: "alice"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m := h.reg.GetOrCreate("r1", "c1")
	_ = m.Start()

	wantPerTick := []int{1, 0, 1, 2}
	total := 0
	for i, want := range wantPerTick {
		h.sched.fire(m.key)
		got := len(h.note.all()) - total
		if got != want {
			t.Fatalf("tick %d (%s): %d notifications, want %d", i, p.codes[i], got, want)
		}
		total += got
	}

	all := h.note.all()
	wantText := []string{"Offline @alice", "Unstable @alice", "Online @alice", "Online @alice"}
	wantColor := []transport.Color{transport.ColorRed, transport.ColorYellow, transport.ColorGreen, transport.ColorGreen}
	for i := range all {
		if all[i].text != wantText[i] || all[i].opts.Color != wantColor[i] || !all[i].opts.Notify {
			t.Fatalf("notification %d = %+v", i, all[i])
		}
	}

	hist := m.Snapshot().History
	for _, c := range hist {
		if c == status.Offline || c == status.Unstable {
			t.Fatalf("history kept pre-recovery codes: %v", hist)
		}
	}
	if len(hist) != 1 || hist[0] != status.Online {
		t.Fatalf("history after recovery = %v, want [Online]", hist)
	}

	// Online again is debounced and no longer a recovery.
	h.sched.fire(m.key)
	if n := len(h.note.all()); n != total {
		t.Fatalf("steady Online notified again: %d", n-total)
	}
}

func TestRecurringOutageIsAnnouncedAgainAfterWindow(t *testing.T) {
	p := &scripted{codes: []status.Code{status.Offline, status.Unknown, status.Unknown, status.Unknown, status.Offline}}
	h := newHarness(p)
	m := h.reg.GetOrCreate("r1", "c1")
	_ = m.Start()
	for range p.codes {
		h.sched.fire(m.key)
	}
	var offline int
	for _, s := range h.note.all() {
		if strings.HasPrefix(s.text, "Offline") {
			offline++
		}
	}
	if offline != 2 {
		t.Fatalf("Offline announced %d times, want 2", offline)
	}
}

func TestProviderErrorSkipsTick(t *testing.T) {
	boom := fmt.Errorf("%w: connection refused", status.ErrFetch)
	calls := 0
	p := status.ProviderFunc(func(context.Context) (status.Observation, error) {
		calls++
		if calls == 2 {
			return status.Observation{}, boom
		}
		return status.Observation{Code: status.Offline, Text: "Offline"}, nil
	})
	h := newHarness(p)
	events, unsub := h.bus.Subscribe(16)
	defer unsub()

	m := h.reg.GetOrCreate("r1", "c1")
	_ = m.Start()
	h.sched.fire(m.key)
	before := m.Snapshot()
	h.sched.fire(m.key)
	after := m.Snapshot()

	if !after.Watching {
		t.Fatal("provider error stopped the monitor")
	}
	if len(after.History) != len(before.History) || after.Last.Code != before.Last.Code {
		t.Fatalf("provider error changed state: before %+v after %+v", before, after)
	}
	if after.Failures != 1 || !strings.Contains(after.LastError, "connection refused") {
		t.Fatalf("failure not recorded: %+v", after)
	}
	if n := len(h.note.all()); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}

	var sawFailure bool
	for len(events) > 0 {
		if ev := <-events; ev.Type == "watch.check_failed" {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Fatal("no watch.check_failed event")
	}
}

func TestNotifierFailureIsNotRetried(t *testing.T) {
	h := newHarness(status.Static(status.Offline, "Offline"))
	h.note.err = errors.New("chat down")
	m := h.reg.GetOrCreate("r1", "c1")
	_ = m.Start()
	h.sched.fire(m.key)
	h.note.mu.Lock()
	h.note.err = nil
	h.note.mu.Unlock()
	h.sched.fire(m.key)
	if n := len(h.note.all()); n != 0 {
		t.Fatalf("debounced status resent after failure: %d", n)
	}
	if st := m.Snapshot(); st.Notifications != 0 || st.Ticks != 2 {
		t.Fatalf("counters = %+v", st)
	}
}

func TestCheckNowWhileWatchingLeavesHistory(t *testing.T) {
	p := &scripted{codes: []status.Code{status.Offline, status.Unstable}}
	h := newHarness(p)
	m := h.reg.GetOrCreate("r1", "c1")
	_ = m.Start()
	h.sched.fire(m.key)

	obs, err := m.CheckNow(context.Background())
	if err != nil || obs.Code != status.Unstable {
		t.Fatalf("CheckNow = %+v, %v", obs, err)
	}
	st := m.Snapshot()
	if len(st.History) != 1 || st.History[0] != status.Offline || st.Last.Code != status.Offline {
		t.Fatalf("CheckNow while watching touched state: %+v", st)
	}
}

func TestSeedSetsLastOnly(t *testing.T) {
	h := newHarness(status.Static(status.Unstable, "Unstable"))
	m := h.reg.GetOrCreate("r1", "c1")
	if _, err := m.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	st := m.Snapshot()
	if st.Watching || st.Last == nil || st.Last.Code != status.Unstable || len(st.History) != 0 {
		t.Fatalf("after Seed: %+v", st)
	}
}

func TestIndependentRooms(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	slowFail := status.ProviderFunc(func(ctx context.Context) (status.Observation, error) {
		close(entered)
		<-release
		return status.Observation{}, status.ErrFetch
	})

	sched := newFakeScheduler()
	note := &recordingNotifier{}
	deps := Deps{Scheduler: sched, Notifier: note, Log: logx.Nop()}

	depsA := deps
	depsA.Provider = slowFail
	a := newMonitor(Key{ClientID: "c1", RoomID: "A"}, Config{}, depsA)
	depsB := deps
	depsB.Provider = status.Static(status.Offline, "Offline")
	b := newMonitor(Key{ClientID: "c1", RoomID: "B"}, Config{}, depsB)
	_ = a.Start()
	_ = b.Start()

	done := make(chan struct{})
	go func() {
		sched.fire(a.key)
		close(done)
	}()
	<-entered

	// Room A is stuck inside its provider call; B still ticks and notifies.
	tickDone := make(chan struct{})
	go func() {
		sched.fire(b.key)
		close(tickDone)
	}()
	select {
	case <-tickDone:
	case <-time.After(2 * time.Second):
		t.Fatal("room B tick blocked by room A")
	}
	if len(note.forKey(b.key)) != 1 {
		t.Fatalf("room B notifications = %d, want 1", len(note.forKey(b.key)))
	}

	close(release)
	<-done
	if n := len(note.forKey(a.key)); n != 0 {
		t.Fatalf("room A notifications = %d, want 0", n)
	}
	if st := a.Snapshot(); !st.Watching || st.Failures != 1 {
		t.Fatalf("room A state = %+v", st)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	var mu sync.Mutex
	calls := 0
	p := status.ProviderFunc(func(context.Context) (status.Observation, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		entered <- struct{}{}
		<-release
		return status.Observation{Code: status.Online, Text: "Online"}, nil
	})
	h := newHarness(p)
	m := h.reg.GetOrCreate("r1", "c1")
	_ = m.Start()

	done := make(chan struct{})
	go func() {
		h.sched.fire(m.key)
		close(done)
	}()
	<-entered
	h.sched.fire(m.key) // returns immediately: previous tick holds the tick lock
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("provider called %d times, want 1", calls)
	}
}

func TestMonitorWithRealScheduler(t *testing.T) {
	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop(context.Background())

	note := &recordingNotifier{}
	reg := NewRegistry(Config{Interval: time.Second}, Deps{
		Provider:  status.Static(status.Offline, "Offline"),
		Scheduler: sched,
		Notifier:  note,
	}, nil)
	m := reg.GetOrCreate("r1", "c1")
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(4 * time.Second)
	for len(note.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(25 * time.Millisecond)
	}
	if len(note.all()) != 1 {
		t.Fatalf("notifications = %d, want 1", len(note.all()))
	}
	_ = m.Stop()
	ticks := m.Snapshot().Ticks
	time.Sleep(1500 * time.Millisecond)
	if got := m.Snapshot().Ticks; got != ticks {
		t.Fatalf("ticks continued after Stop: %d -> %d", ticks, got)
	}
}

func TestRestartDuringTimezoneReloadWithTickInFlight(t *testing.T) {
	sched := scheduler.New(scheduler.Config{Timezone: "UTC"}, logx.Nop())
	sched.Start(context.Background())
	defer sched.Stop(context.Background())

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var once sync.Once
	p := status.ProviderFunc(func(ctx context.Context) (status.Observation, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return status.Observation{Code: status.Online, Text: "Online"}, nil
	})
	reg := NewRegistry(Config{Interval: time.Second, CheckTimeout: 30 * time.Second}, Deps{
		Provider:  p,
		Scheduler: sched,
		Notifier:  &recordingNotifier{},
	}, nil)
	m := reg.GetOrCreate("r1", "c1")
	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(4 * time.Second):
		t.Fatal("tick never reached the provider")
	}
	defer once.Do(func() { close(release) })

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	applied := make(chan struct{})
	go func() {
		sched.Apply(scheduler.Config{Timezone: "Europe/Berlin"})
		close(applied)
	}()
	started := make(chan error, 1)
	go func() { started <- m.Start() }()

	// Start must not wait for the in-flight tick.
	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("restart: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start blocked behind the scheduler reload")
	}

	once.Do(func() { close(release) })
	select {
	case <-applied:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduler reload never finished")
	}
	if !m.Watching() {
		t.Fatal("monitor not watching after restart")
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("final Stop: %v", err)
	}
}
