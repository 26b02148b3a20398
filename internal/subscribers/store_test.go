package subscribers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"roomwatch/internal/storage"
	logx "roomwatch/pkg/logx"
)

func newStore() *Store { return New(storage.NewMemory(), logx.Nop()) }

func TestAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	alice := Subscriber{ID: "u1", DisplayName: "Alice", MentionHandle: "alice"}

	added, err := s.Add(ctx, "r1", "c1", alice)
	if err != nil || !added {
		t.Fatalf("first Add = %v, %v", added, err)
	}
	added, err = s.Add(ctx, "r1", "c1", Subscriber{ID: "u1", DisplayName: "Renamed"})
	if err != nil || added {
		t.Fatalf("second Add = %v, %v; want false", added, err)
	}
	list, err := s.List(ctx, "r1", "c1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].MentionHandle != "alice" || list[0].DisplayName != "Alice" {
		t.Fatalf("list = %+v", list)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	got, err := s.Remove(ctx, "r1", "c1", "ghost")
	if err != nil || got != nil {
		t.Fatalf("Remove never-added = %v, %v", got, err)
	}

	for _, id := range []string{"u1", "u2", "u3"} {
		if _, err := s.Add(ctx, "r1", "c1", Subscriber{ID: id, MentionHandle: id}); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}
	got, err = s.Remove(ctx, "r1", "c1", "u2")
	if err != nil || got == nil || got.ID != "u2" {
		t.Fatalf("Remove u2 = %+v, %v", got, err)
	}
	list, _ := s.List(ctx, "r1", "c1")
	if len(list) != 2 || list[0].ID != "u1" || list[1].ID != "u3" {
		t.Fatalf("list after remove = %+v", list)
	}
}

func TestListMissingIsEmpty(t *testing.T) {
	list, err := newStore().List(context.Background(), "nowhere", "c1")
	if err != nil || len(list) != 0 {
		t.Fatalf("List = %v, %v", list, err)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	_, _ = s.Add(ctx, "r1", "c1", Subscriber{ID: "u1"})
	_, _ = s.Add(ctx, "r2", "c1", Subscriber{ID: "u2"})
	_, _ = s.Add(ctx, "r1", "c2", Subscriber{ID: "u3"})

	for _, tc := range []struct {
		room, client, want string
	}{
		{"r1", "c1", "u1"},
		{"r2", "c1", "u2"},
		{"r1", "c2", "u3"},
	} {
		list, _ := s.List(ctx, tc.room, tc.client)
		if len(list) != 1 || list[0].ID != tc.want {
			t.Fatalf("%s/%s = %+v, want %s", tc.client, tc.room, list, tc.want)
		}
	}
}

func TestInitAndPurge(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	s := New(kv, logx.Nop())

	_, _ = s.Add(ctx, "r1", "c1", Subscriber{ID: "u1"})
	if err := s.Init(ctx, "r1", "c1"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	raw, err := kv.Get(ctx, Key("r1", "c1"))
	if err != nil || string(raw) != `{"subscribers":[]}` {
		t.Fatalf("raw after Init = %s, %v", raw, err)
	}

	_, _ = s.Add(ctx, "r1", "c1", Subscriber{ID: "u1"})
	_, _ = s.Add(ctx, "r2", "c1", Subscriber{ID: "u2"})
	_, _ = s.Add(ctx, "r1", "c12", Subscriber{ID: "u3"})

	n, err := s.Purge(ctx, "c1")
	if err != nil || n != 2 {
		t.Fatalf("Purge = %d, %v; want 2", n, err)
	}
	if list, _ := s.List(ctx, "r1", "c1"); len(list) != 0 {
		t.Fatalf("c1 data survived purge: %+v", list)
	}
	if list, _ := s.List(ctx, "r1", "c12"); len(list) != 1 {
		t.Fatalf("purge removed another client: %+v", list)
	}
}

// gatedKV blocks the first Get until release is closed.
type gatedKV struct {
	storage.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedKV) Get(ctx context.Context, key string) ([]byte, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.Store.Get(ctx, key)
}

func TestPurgeWaitsForInFlightWriters(t *testing.T) {
	ctx := context.Background()
	kv := &gatedKV{Store: storage.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	s := New(kv, logx.Nop())

	added := make(chan error, 1)
	go func() {
		_, err := s.Add(ctx, "r1", "c1", Subscriber{ID: "u1"})
		added <- err
	}()
	<-kv.entered

	purged := make(chan int, 1)
	go func() {
		n, err := s.Purge(ctx, "c1")
		if err != nil {
			t.Errorf("Purge: %v", err)
		}
		purged <- n
	}()
	select {
	case n := <-purged:
		close(kv.release)
		t.Fatalf("Purge returned %d while an Add was mid-write", n)
	case <-time.After(100 * time.Millisecond):
	}

	close(kv.release)
	if err := <-added; err != nil {
		t.Fatalf("Add: %v", err)
	}
	if n := <-purged; n != 1 {
		t.Fatalf("Purge removed %d keys, want 1", n)
	}
	if list, _ := s.List(ctx, "r1", "c1"); len(list) != 0 {
		t.Fatalf("purged room came back: %+v", list)
	}
}

func TestConcurrentAddsAcrossPurgeKeepEveryUpdate(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Add(ctx, "r1", "c1", Subscriber{ID: fmt.Sprintf("early%d", i)})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = s.Purge(ctx, "c1")
		}()
	}
	wg.Wait()
	if _, err := s.Purge(ctx, "c1"); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Add(ctx, "r1", "c1", Subscriber{ID: fmt.Sprintf("u%d", i)}); err != nil {
				t.Errorf("Add: %v", err)
			}
		}(i)
	}
	wg.Wait()
	list, err := s.List(ctx, "r1", "c1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != n {
		t.Fatalf("list has %d subscribers, want %d", len(list), n)
	}
}

type failingKV struct{ storage.Store }

var errDown = errors.New("store down")

func (failingKV) Get(context.Context, string) ([]byte, error) { return nil, errDown }
func (failingKV) Set(context.Context, string, []byte) error { return errDown }
func (failingKV) DeletePrefix(context.Context, string) (int, error) { return 0, errDown }

func TestPersistenceErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	s := New(failingKV{}, logx.Nop())
	if _, err := s.Add(ctx, "r", "c", Subscriber{ID: "u"}); !errors.Is(err, errDown) {
		t.Fatalf("Add err = %v", err)
	}
	if _, err := s.List(ctx, "r", "c"); !errors.Is(err, errDown) {
		t.Fatalf("List err = %v", err)
	}
	if _, err := s.Purge(ctx, "c"); !errors.Is(err, errDown) {
		t.Fatalf("Purge err = %v", err)
	}
}

func TestMentions(t *testing.T) {
	got := Mentions([]Subscriber{
		{ID: "1", MentionHandle: "alice"},
		{ID: "2", MentionHandle: "@bob"},
		{ID: "3"},
	})
	if got != " @alice @bob @3" {
		t.Fatalf("Mentions = %q", got)
	}
	if Mentions(nil) != "" {
		t.Fatal("no subscribers should render nothing")
	}
}
