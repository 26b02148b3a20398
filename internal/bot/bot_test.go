package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"roomwatch/internal/status"
	"roomwatch/internal/storage"
	"roomwatch/internal/subscribers"
	"roomwatch/internal/transport"
	"roomwatch/internal/transport/telegram/router"
	"roomwatch/internal/watch"
	logx "roomwatch/pkg/logx"
)

type chatAdapter struct {
	mu   sync.Mutex
	sent []string
	to   []transport.ChatTarget
}

func (a *chatAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *chatAdapter) Stop(context.Context) error { return nil }

func (a *chatAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, text)
	a.to = append(a.to, to)
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(a.sent)}, nil
}

func (a *chatAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func (a *chatAdapter) since(n int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent[n:]...)
}

type nopScheduler struct{}

func (nopScheduler) Every(string, time.Duration, func(context.Context)) (func(), error) {
	return func() {}, nil
}

type harness struct {
	t       *testing.T
	ad      *chatAdapter
	kv      storage.Store
	subs    *subscribers.Store
	reg     *watch.Registry
	updates chan<- transport.Update
}

func newHarness(t *testing.T, provider status.Provider) *harness {
	t.Helper()
	kv := storage.NewMemory()
	subs := subscribers.New(kv, logx.Nop())
	reg := watch.NewRegistry(watch.Config{}, watch.Deps{
		Provider:    provider,
		Scheduler:   nopScheduler{},
		Subscribers: subs,
	}, subs)

	ad := &chatAdapter{}
	m := router.NewCommandManager(logx.Nop(), ad, router.Options{Workers: 1})
	New(Config{Name: "Server Status"}, reg, subs, logx.Nop()).Register(m)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{t: t, ad: ad, kv: kv, subs: subs, reg: reg, updates: updates}
}

// do delivers one update and waits for want replies.
func (h *harness) do(up transport.Update, want int) []string {
	h.t.Helper()
	before := h.ad.count()
	h.updates <- up
	deadline := time.Now().Add(3 * time.Second)
	for h.ad.count() < before+want {
		if time.Now().After(deadline) {
			h.t.Fatalf("got %d replies, want %d", h.ad.count()-before, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return h.ad.since(before)
}

func (h *harness) say(text string) string {
	h.t.Helper()
	return h.do(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ChatID: -100, ThreadID: 3, FromID: 42, FromUsername: "ash", FromName: "Ash Ketchum", Text: text, IsGroup: true,
	}}, 1)[0]
}

func TestSubscriberCommands(t *testing.T) {
	h := newHarness(t, status.Static(status.Online, "Online"))

	steps := []struct{ in, want string }{
		{"/subs", "There are no subscribers :("},
		{"/add", "added Ash Ketchum to subscriber list"},
		{"/add", "Ash Ketchum is already subscribed"},
		{"/subs", "current subs are (ping names):  ash"},
		{"/remove", "Ash Ketchum has unsubscribed :("},
		{"/remove", "Ash Ketchum wasn't subscribed"},
	}
	for _, s := range steps {
		if got := h.say(s.in); got != s.want {
			t.Fatalf("%s replied %q, want %q", s.in, got, s.want)
		}
	}

	before := h.ad.count()
	h.say("/add")
	if h.ad.to[before] != (transport.ChatTarget{ChatID: -100, ThreadID: 3}) {
		t.Fatalf("reply went to %+v", h.ad.to[before])
	}
	list, err := h.subs.List(context.Background(), "3", "-100")
	if err != nil || len(list) != 1 || list[0].ID != "42" || list[0].MentionHandle != "ash" {
		t.Fatalf("stored = %+v, %v", list, err)
	}
}

func TestWatchCommands(t *testing.T) {
	h := newHarness(t, status.Static(status.Offline, "Offline"))

	steps := []struct{ in, want string }{
		{"/stop", "I'm not listening for server changes"},
		{"/start", "I'll let you know if the server status changes"},
		{"/start", "I'm already listening for server changes"},
		{"/server", "Offline"},
		{"/stop", "I'm not listening for server changes anymore"},
		{"/stop", "I'm not listening for server changes"},
	}
	for _, s := range steps {
		if got := h.say(s.in); got != s.want {
			t.Fatalf("%s replied %q, want %q", s.in, got, s.want)
		}
	}

	h.say("/server")
	m, ok := h.reg.Lookup("3", "-100")
	if !ok {
		t.Fatal("monitor missing")
	}
	st := m.Snapshot()
	if st.Watching || len(st.History) != 1 || st.History[0] != status.Offline {
		t.Fatalf("state after stopped /server = %+v", st)
	}
}

func TestServerReportsProviderFailure(t *testing.T) {
	h := newHarness(t, status.ProviderFunc(func(context.Context) (status.Observation, error) {
		return status.Observation{}, errors.New("status page down")
	}))
	if got := h.say("/server"); got != "couldn't check the server status right now" {
		t.Fatalf("reply = %q", got)
	}
}

func TestServerCreatesStoppedMonitor(t *testing.T) {
	h := newHarness(t, status.Static(status.Offline, "Offline"))
	if got := h.say("/server"); got != "Offline" {
		t.Fatalf("reply = %q", got)
	}
	m, ok := h.reg.Lookup("3", "-100")
	if !ok {
		t.Fatal("/server did not create a monitor")
	}
	st := m.Snapshot()
	if st.Watching || len(st.History) != 1 || st.History[0] != status.Offline {
		t.Fatalf("state after /server = %+v", st)
	}
	if h.reg.IsWatching("3", "-100") {
		t.Fatal("/server started watching")
	}
}

func TestHelpListsCommandsInOrder(t *testing.T) {
	h := newHarness(t, status.Static(status.Online, "Online"))
	lines := strings.Split(h.say("/help"), "\n")
	var names []string
	for _, l := range lines {
		names = append(names, strings.SplitN(l, "</b>", 2)[0])
	}
	want := []string{"<b>/server", "<b>/help", "<b>/subs", "<b>/add", "<b>/remove", "<b>/start", "<b>/stop"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("help order = %q", names)
	}
}

func TestInstallAndUninstall(t *testing.T) {
	h := newHarness(t, status.Static(status.Unstable, "Unstable"))
	ctx := context.Background()

	got := h.do(transport.Update{Kind: transport.UpdateInstalled, Install: &transport.Install{ChatID: -7, ChatTitle: "league", ByID: 1}}, 2)
	if got[0] != "The Server Status bot has been installed in this room" || got[1] != "use /help to find out what I do" {
		t.Fatalf("greeting = %q", got)
	}

	raw, err := h.kv.Get(ctx, subscribers.Key("0", "-7"))
	if err != nil || string(raw) != `{"subscribers":[]}` {
		t.Fatalf("initial record = %s, %v", raw, err)
	}
	m, ok := h.reg.Lookup("0", "-7")
	if !ok {
		t.Fatal("monitor not created on install")
	}
	st := m.Snapshot()
	if st.Watching || st.Last == nil || st.Last.Code != status.Unstable || len(st.History) != 0 {
		t.Fatalf("seeded state = %+v", st)
	}

	_, _ = h.subs.Add(ctx, "5", "-7", subscribers.Subscriber{ID: "1", DisplayName: "Misty"})
	h.updates <- transport.Update{Kind: transport.UpdateUninstalled, Install: &transport.Install{ChatID: -7}}
	deadline := time.Now().Add(3 * time.Second)
	for {
		_, still := h.reg.Lookup("0", "-7")
		list, _ := h.subs.List(ctx, "5", "-7")
		if !still && len(list) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("uninstall left monitor=%v subs=%v", still, list)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type readOnlyKV struct{ storage.Store }

var errReadOnly = errors.New("store is read-only")

func (readOnlyKV) Set(context.Context, string, []byte) error { return errReadOnly }

func TestInstallReportsSubscriberInitFailure(t *testing.T) {
	subs := subscribers.New(readOnlyKV{Store: storage.NewMemory()}, logx.Nop())
	reg := watch.NewRegistry(watch.Config{}, watch.Deps{
		Provider:  status.Static(status.Online, "Online"),
		Scheduler: nopScheduler{},
	}, subs)
	b := New(Config{Name: "Server Status"}, reg, subs, logx.Nop())

	ad := &chatAdapter{}
	req := &router.Request{
		Chat:    transport.ChatTarget{ChatID: -7},
		Adapter: ad,
		Logger:  logx.Nop(),
	}
	err := b.onInstall(context.Background(), req)
	if !errors.Is(err, errReadOnly) {
		t.Fatalf("onInstall err = %v, want the init failure", err)
	}
	got := ad.since(0)
	if len(got) != 2 || got[0] != "The Server Status bot has been installed in this room" {
		t.Fatalf("greeting = %q", got)
	}
	if _, ok := reg.Lookup("0", "-7"); !ok {
		t.Fatal("monitor not created on install")
	}
}

type queueFunc func(ctx context.Context, n transport.Notification) error

func (f queueFunc) Notify(ctx context.Context, n transport.Notification) error { return f(ctx, n) }

func TestRoomNotifier(t *testing.T) {
	var got transport.Notification
	rn := NewRoomNotifier(queueFunc(func(_ context.Context, n transport.Notification) error {
		got = n
		return nil
	}))

	err := rn.Send(context.Background(), watch.Key{ClientID: "-100", RoomID: "3"}, "Offline @ash", watch.NotifyOptions{Notify: true, Color: transport.ColorRed})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Target != (transport.ChatTarget{ChatID: -100, ThreadID: 3}) || got.Text != "Offline @ash" || got.Color != transport.ColorRed {
		t.Fatalf("notification = %+v", got)
	}
	if got.Options == nil || got.Options.Silent {
		t.Fatalf("notify=true delivered silently: %+v", got.Options)
	}

	_ = rn.Send(context.Background(), watch.Key{ClientID: "-100", RoomID: "0"}, "x", watch.NotifyOptions{})
	if !got.Options.Silent {
		t.Fatal("notify=false not silent")
	}

	if err := rn.Send(context.Background(), watch.Key{ClientID: "room-a", RoomID: "1"}, "x", watch.NotifyOptions{}); err == nil {
		t.Fatal("non-numeric client accepted")
	}
}

func TestRoomKeyRoundTrip(t *testing.T) {
	in := transport.ChatTarget{ChatID: -1001234567890, ThreadID: 17}
	room, client := RoomKey(in)
	out, err := Target(watch.Key{ClientID: client, RoomID: room})
	if err != nil || out != in {
		t.Fatalf("round trip = %+v, %v", out, err)
	}
}
