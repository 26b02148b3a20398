// Package subscribers keeps the per-room list of people pinged on status changes.
package subscribers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"roomwatch/internal/storage"
	logx "roomwatch/pkg/logx"
)

// Subscriber is one member of a room's ping list. Two subscribers are the same
// person when their IDs match.
type Subscriber struct {
	ID            string `json:"id"`
	DisplayName   string `json:"name"`
	MentionHandle string `json:"mention_name"`
}

type record struct {
	Subscribers []Subscriber `json:"subscribers"`
}

// Store persists subscriber lists under "<client>:<room>".
type Store struct {
	kv  storage.Store
	log logx.Logger

	// Writers of one room hold the room mutex under their client's read
	// lock; Purge takes the client lock exclusively. Entries are never freed.
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	clients map[string]*sync.RWMutex
}

func New(kv storage.Store, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{kv: kv, log: log, locks: map[string]*sync.Mutex{}, clients: map[string]*sync.RWMutex{}}
}

// Key returns the storage key for a room of a client.
func Key(room, client string) string { return client + ":" + room }

// ClientPrefix returns the prefix covering every room of client.
func ClientPrefix(client string) string { return client + ":" }

// lock serializes writers of one room and holds off Purge of its client.
func (s *Store) lock(room, client string) func() {
	key := Key(room, client)
	s.mu.Lock()
	c := s.clientLocked(client)
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()
	c.RLock()
	m.Lock()
	return func() {
		m.Unlock()
		c.RUnlock()
	}
}

func (s *Store) clientLocked(client string) *sync.RWMutex {
	c, ok := s.clients[client]
	if !ok {
		c = &sync.RWMutex{}
		s.clients[client] = c
	}
	return c
}

// Add appends sub unless a subscriber with the same ID is already listed.
func (s *Store) Add(ctx context.Context, room, client string, sub Subscriber) (bool, error) {
	if strings.TrimSpace(sub.ID) == "" {
		return false, errors.New("subscribers: empty subscriber id")
	}
	key := Key(room, client)
	defer s.lock(room, client)()

	rec, err := s.load(ctx, key)
	if err != nil {
		return false, err
	}
	if indexOf(rec.Subscribers, sub.ID) >= 0 {
		return false, nil
	}
	rec.Subscribers = append(rec.Subscribers, sub)
	if err := s.save(ctx, key, rec); err != nil {
		return false, err
	}
	s.log.Debug("subscriber added", logx.String("key", key), logx.String("id", sub.ID))
	return true, nil
}

// Remove drops the subscriber with id and returns it, or nil when it was not listed.
func (s *Store) Remove(ctx context.Context, room, client, id string) (*Subscriber, error) {
	key := Key(room, client)
	defer s.lock(room, client)()

	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	i := indexOf(rec.Subscribers, id)
	if i < 0 {
		return nil, nil
	}
	removed := rec.Subscribers[i]
	rec.Subscribers = append(rec.Subscribers[:i], rec.Subscribers[i+1:]...)
	if err := s.save(ctx, key, rec); err != nil {
		return nil, err
	}
	s.log.Debug("subscriber removed", logx.String("key", key), logx.String("id", id))
	return &removed, nil
}

// List returns the subscribers in insertion order. A room never written to has none.
func (s *Store) List(ctx context.Context, room, client string) ([]Subscriber, error) {
	rec, err := s.load(ctx, Key(room, client))
	if err != nil {
		return nil, err
	}
	return rec.Subscribers, nil
}

// Init overwrites the room's list with an empty one.
func (s *Store) Init(ctx context.Context, room, client string) error {
	key := Key(room, client)
	defer s.lock(room, client)()
	return s.save(ctx, key, record{Subscribers: []Subscriber{}})
}

// Purge deletes the lists of every room belonging to client.
func (s *Store) Purge(ctx context.Context, client string) (int, error) {
	if strings.TrimSpace(client) == "" {
		return 0, errors.New("subscribers: empty client id")
	}
	s.mu.Lock()
	c := s.clientLocked(client)
	s.mu.Unlock()
	c.Lock()
	defer c.Unlock()

	n, err := s.kv.DeletePrefix(ctx, ClientPrefix(client))
	if err != nil {
		return 0, fmt.Errorf("subscribers: purge %s: %w", client, err)
	}

	s.log.Info("subscriber data purged", logx.String("client", client), logx.Int("keys", n))
	return n, nil
}

func (s *Store) load(ctx context.Context, key string) (record, error) {
	b, err := s.kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return record{}, nil
	}
	if err != nil {
		return record{}, fmt.Errorf("subscribers: load %s: %w", key, err)
	}
	var rec record
	if len(b) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return record{}, fmt.Errorf("subscribers: decode %s: %w", key, err)
	}
	return rec, nil
}

func (s *Store) save(ctx context.Context, key string, rec record) error {
	if rec.Subscribers == nil {
		rec.Subscribers = []Subscriber{}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("subscribers: encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, b); err != nil {
		return fmt.Errorf("subscribers: save %s: %w", key, err)
	}
	return nil
}

func indexOf(list []Subscriber, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// Mentions renders " @handle" for every subscriber, falling back to the ID
// when no handle is known.
func Mentions(list []Subscriber) string {
	var b strings.Builder
	for _, s := range list {
		h := strings.TrimPrefix(strings.TrimSpace(s.MentionHandle), "@")
		if h == "" {
			h = s.ID
		}
		b.WriteString(" @")
		b.WriteString(h)
	}
	return b.String()
}
