package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"roomwatch/internal/eventbus"
	"roomwatch/internal/transport"
	logx "roomwatch/pkg/logx"
)

type fakeAdapter struct {
	mu    sync.Mutex
	texts []string
	opts  []*transport.SendOptions
	fail  int // fail the first N sends
	calls int
	block chan struct{}
}

func (a *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.calls <= a.fail {
		return transport.MessageRef{}, errors.New("telegram: 502")
	}
	a.texts = append(a.texts, text)
	a.opts = append(a.opts, opt)
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.calls}, nil
}

func (a *fakeAdapter) snapshot() (int, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls, append([]string(nil), a.texts...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNotifyDeliversWithColorPrefix(t *testing.T) {
	ad := &fakeAdapter{}
	bus := eventbus.New()
	events, unsub := eventbus.SubscribeTopic(bus, 32, "notifier.")
	defer unsub()

	s := New(Config{Enabled: true, RatePerSec: 100}, ad, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	cases := []struct {
		color transport.Color
		want  string
	}{
		{transport.ColorRed, "🚨 Offline"},
		{transport.ColorYellow, "⚠️ Offline"},
		{transport.ColorGreen, "✅ Offline"},
		{transport.ColorNone, "Offline"},
	}
	for _, tc := range cases {
		err := s.Notify(context.Background(), transport.Notification{
			Channel: "telegram",
			Target:  transport.ChatTarget{ChatID: 42},
			Text:    "Offline",
			Color:   tc.color,
		})
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	waitFor(t, func() bool { _, texts := ad.snapshot(); return len(texts) == len(cases) })

	_, texts := ad.snapshot()
	for _, tc := range cases {
		found := false
		for _, got := range texts {
			if got == tc.want {
				found = true
			}
		}
		if !found {
			t.Fatalf("missing %q in %q", tc.want, texts)
		}
	}
	waitFor(t, func() bool { return len(s.Recent()) == len(cases) })

	sent := 0
	timeout := time.After(time.Second)
	for sent < len(cases) {
		select {
		case ev := <-events:
			if ev.Type == "notifier.sent" {
				sent++
			}
		case <-timeout:
			t.Fatalf("saw %d notifier.sent events", sent)
		}
	}
}

func TestNoRetryByDefault(t *testing.T) {
	ad := &fakeAdapter{fail: 1}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 100}, ad, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Notify(context.Background(), transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "x"})

	var failed eventbus.Event
	waitFor(t, func() bool {
		select {
		case ev := <-events:
			if ev.Type == "notifier.failed" {
				failed = ev
				return true
			}
		default:
		}
		return false
	})
	if got := failed.Data.(NotificationEvent); got.Attempts != 1 || !strings.Contains(got.Error, "502") {
		t.Fatalf("failed event = %+v", got)
	}
	if calls, texts := ad.snapshot(); calls != 1 || len(texts) != 0 {
		t.Fatalf("calls = %d texts = %v", calls, texts)
	}
}

func TestRetryWhenConfigured(t *testing.T) {
	ad := &fakeAdapter{fail: 2}
	s := New(Config{Enabled: true, Workers: 1, RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}, ad, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Notify(context.Background(), transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "x"})
	waitFor(t, func() bool { _, texts := ad.snapshot(); return len(texts) == 1 })
	if calls, _ := ad.snapshot(); calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestNotifyRejections(t *testing.T) {
	ad := &fakeAdapter{}
	n := transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "x"}

	off := New(Config{Enabled: false}, ad, logx.Nop(), nil)
	off.Start(context.Background())
	if err := off.Notify(context.Background(), n); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled Notify = %v", err)
	}

	s := New(Config{Enabled: true}, ad, logx.Nop(), nil)
	if err := s.Notify(context.Background(), n); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify before Start = %v", err)
	}
	s.Start(context.Background())
	if err := s.Notify(context.Background(), transport.Notification{Text: "  "}); err == nil {
		t.Fatal("empty text accepted")
	}
	s.Stop(context.Background())
	if err := s.Notify(context.Background(), n); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify after Stop = %v", err)
	}
}

func TestQueueFullDrops(t *testing.T) {
	ad := &fakeAdapter{block: make(chan struct{})}
	s := New(Config{Enabled: true, Workers: 1, QueueSize: 1, RatePerSec: 100}, ad, logx.Nop(), nil)
	s.Start(context.Background())

	n := transport.Notification{Target: transport.ChatTarget{ChatID: 1}, Text: "x"}
	var full bool
	for i := 0; i < 10; i++ {
		if err := s.Notify(context.Background(), n); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	if !full {
		t.Fatal("queue never reported full")
	}
	close(ad.block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestRetryDelayBounds(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 8; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %s out of bounds", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %s outside jitter band", d)
	}
}
