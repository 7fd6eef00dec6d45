package docstore

import (
	"context"
	"errors"
	"sort"
	"sync"

	"threadboard/internal/util"
)

// MemoryStore is the in-process backend used in tests and as the fallback
// when neither Redis nor Postgres is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	seq         map[string]map[string]int64
	nextSeq     int64
	subs        map[int]*memorySub
	nextSub     int
	closed      bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Document),
		seq:         make(map[string]map[string]int64),
		subs:        make(map[int]*memorySub),
	}
}

type memorySub struct {
	store *MemoryStore
	id    int
	query Query
	ch    chan []Document
	once  sync.Once
}

func (s *memorySub) Snapshots() <-chan []Document { return s.ch }

func (s *memorySub) Unsubscribe() {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs, s.id)
		close(s.ch)
		s.store.mu.Unlock()
	})
}

func (m *MemoryStore) Create(_ context.Context, collection string, doc Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := util.NewID("c")
	stored := cloneDocument(doc)
	stored.ID = id
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]Document)
		m.seq[collection] = make(map[string]int64)
	}
	m.collections[collection][id] = stored
	m.nextSeq++
	m.seq[collection][id] = m.nextSeq
	m.notifyLocked(collection)
	return id, nil
}

func (m *MemoryStore) ReadOne(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (m *MemoryStore) Read(_ context.Context, q Query) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queryLocked(q), nil
}

func (m *MemoryStore) UpdateSetField(_ context.Context, collection, id, field string, op SetOp, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	if doc.Sets == nil {
		doc.Sets = make(map[string][]string)
	}
	members := doc.Sets[field]
	switch op {
	case SetAdd:
		for _, existing := range members {
			if existing == member {
				m.collections[collection][id] = doc
				return nil
			}
		}
		doc.Sets[field] = append(members, member)
	case SetRemove:
		kept := members[:0]
		for _, existing := range members {
			if existing != member {
				kept = append(kept, existing)
			}
		}
		doc.Sets[field] = kept
	}
	m.collections[collection][id] = doc
	m.notifyLocked(collection)
	return nil
}

func (m *MemoryStore) UpdateField(_ context.Context, collection, id, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	if doc.Data == nil {
		doc.Data = make(map[string]any)
	}
	doc.Data[field] = cloneValue(value)
	m.collections[collection][id] = doc
	m.notifyLocked(collection)
	return nil
}

func (m *MemoryStore) AppendToArray(_ context.Context, collection, id, field string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	if doc.Data == nil {
		doc.Data = make(map[string]any)
	}
	existing, _ := doc.Data[field].([]any)
	doc.Data[field] = append(existing, cloneValue(value))
	m.collections[collection][id] = doc
	m.notifyLocked(collection)
	return nil
}

func (m *MemoryStore) Subscribe(_ context.Context, q Query) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("store closed")
	}
	m.nextSub++
	sub := &memorySub{
		store: m,
		id:    m.nextSub,
		query: q,
		ch:    make(chan []Document, 1),
	}
	m.subs[sub.id] = sub
	sub.ch <- m.queryLocked(q)
	return sub, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	subs := make([]*memorySub, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

// queryLocked orders by the query field's score, ties broken by insertion
// order so repeated reads never reshuffle.
func (m *MemoryStore) queryLocked(q Query) []Document {
	type entry struct {
		doc   Document
		score float64
		seq   int64
	}
	var entries []entry
	for id, doc := range m.collections[q.Collection] {
		score, ok := orderScore(doc.Data[q.OrderBy])
		if !ok {
			continue
		}
		entries = append(entries, entry{doc: doc, score: score, seq: m.seq[q.Collection][id]})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			if q.Direction == Descending {
				return entries[i].score > entries[j].score
			}
			return entries[i].score < entries[j].score
		}
		return entries[i].seq < entries[j].seq
	})
	out := make([]Document, len(entries))
	for i, e := range entries {
		out[i] = cloneDocument(e.doc)
	}
	return out
}

func (m *MemoryStore) notifyLocked(collection string) {
	for _, sub := range m.subs {
		if sub.query.Collection != collection {
			continue
		}
		pushLatest(sub.ch, m.queryLocked(sub.query))
	}
}
