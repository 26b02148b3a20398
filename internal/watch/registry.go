package watch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	logx "roomwatch/pkg/logx"
)

// Purger drops persisted per-client data on uninstall.
type Purger interface {
	Purge(ctx context.Context, client string) (int, error)
}

// Registry is the owned table of monitors keyed by (client, room).
// A monitor lives from its first use until its client is torn down.
type Registry struct {
	deps   Deps
	purger Purger
	log    logx.Logger

	mu       sync.Mutex
	cfg      Config
	monitors map[Key]*Monitor
}

func NewRegistry(cfg Config, deps Deps, purger Purger) *Registry {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	deps.Log = log
	return &Registry{
		deps:     deps,
		purger:   purger,
		log:      log,
		cfg:      cfg.withDefaults(),
		monitors: map[Key]*Monitor{},
	}
}

// GetOrCreate returns the room's monitor, creating a stopped one on first use.
func (r *Registry) GetOrCreate(room, client string) *Monitor {
	k := Key{ClientID: client, RoomID: room}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.monitors[k]; ok {
		return m
	}
	m := newMonitor(k, r.cfg, r.deps)
	r.monitors[k] = m
	r.log.Debug("monitor created", logx.String("key", k.String()))
	return m
}

func (r *Registry) Lookup(room, client string) (*Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[Key{ClientID: client, RoomID: room}]
	return m, ok
}

func (r *Registry) IsWatching(room, client string) bool {
	m, ok := r.Lookup(room, client)
	return ok && m.Watching()
}

// Teardown stops and forgets every monitor of client, then purges its
// subscriber data. It returns how many monitors were discarded.
func (r *Registry) Teardown(ctx context.Context, client string) (int, error) {
	r.mu.Lock()
	var gone []*Monitor
	for k, m := range r.monitors {
		if k.ClientID == client {
			gone = append(gone, m)
			delete(r.monitors, k)
		}
	}
	r.mu.Unlock()

	for _, m := range gone {
		if err := m.Stop(); err != nil && !errors.Is(err, ErrNotWatching) {
			r.log.Warn("monitor stop failed during teardown", logx.String("key", m.key.String()), logx.Err(err))
		}
	}

	if r.purger != nil {
		if _, err := r.purger.Purge(ctx, client); err != nil {
			return len(gone), fmt.Errorf("watch: teardown %s: %w", client, err)
		}
	}
	r.log.Info("client torn down", logx.String("client", client), logx.Int("monitors", len(gone)))
	return len(gone), nil
}

// Shutdown stops every watching monitor and keeps the table and all data.
func (r *Registry) Shutdown() int {
	r.mu.Lock()
	all := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		all = append(all, m)
	}
	r.mu.Unlock()

	n := 0
	for _, m := range all {
		if m.Stop() == nil {
			n++
		}
	}
	if n > 0 {
		r.log.Info("monitors stopped", logx.Int("count", n))
	}
	return n
}

// Snapshot lists every monitor ordered by key.
func (r *Registry) Snapshot() []State {
	r.mu.Lock()
	all := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		all = append(all, m)
	}
	r.mu.Unlock()

	out := make([]State, 0, len(all))
	for _, m := range all {
		out = append(out, m.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.ClientID != out[j].Key.ClientID {
			return out[i].Key.ClientID < out[j].Key.ClientID
		}
		return out[i].Key.RoomID < out[j].Key.RoomID
	})
	return out
}

// Apply changes tunables for existing and future monitors. History size
// applies to monitors created afterwards only.
func (r *Registry) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	r.mu.Lock()
	r.cfg = cfg
	all := make([]*Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		all = append(all, m)
	}
	r.mu.Unlock()
	for _, m := range all {
		m.apply(cfg)
	}
}
