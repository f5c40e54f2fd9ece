package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"oddsharvest/models"
)

// MemoryStore keeps everything in process. Used by tests and STORE_BACKEND=memory.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]*memCollection
	runs        []models.SweepRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) Collection(name string) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{name: name, docs: make(map[string]memDoc)}
		s.collections[name] = c
	}
	return c
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateRun(ctx context.Context, run *models.SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, run *models.SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = *run
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) RecentRuns(ctx context.Context, limit int) ([]models.SweepRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SweepRun
	for i := len(s.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

type memDoc struct {
	body  []byte
	index *int64
}

type memCollection struct {
	name string
	mu   sync.RWMutex
	docs map[string]memDoc
}

func (c *memCollection) Name() string { return c.name }

func (c *memCollection) FindByID(ctx context.Context, id string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.body, nil
}

func (c *memCollection) before(before time.Time, limit int) []string {
	cutoff := before.UnixMilli()
	type entry struct {
		id    string
		index *int64
	}
	var hits []entry
	for id, d := range c.docs {
		if d.index == nil || *d.index <= cutoff {
			hits = append(hits, entry{id, d.index})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i].index, hits[j].index
		switch {
		case a == nil && b == nil:
			return hits[i].id < hits[j].id
		case a == nil:
			return true
		case b == nil:
			return false
		case *a != *b:
			return *a < *b
		}
		return hits[i].id < hits[j].id
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return ids
}

func (c *memCollection) FindBefore(ctx context.Context, before time.Time, limit int) ([][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.before(before, limit)
	out := make([][]byte, len(ids))
	for i, id := range ids {
		out[i] = c.docs[id].body
	}
	return out, nil
}

func (c *memCollection) IDsBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.before(before, limit), nil
}

func (c *memCollection) InsertOne(ctx context.Context, doc Document) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[doc.DocID()]; ok {
		return ErrDuplicateKey
	}
	c.docs[doc.DocID()] = memDoc{body: body, index: indexMillis(doc)}
	return nil
}

func (c *memCollection) InsertMany(ctx context.Context, docs []Document, ordered bool) (int, error) {
	return insertMany(ctx, docs, ordered, c.InsertOne)
}

func (c *memCollection) ReplaceOne(ctx context.Context, doc Document, upsert bool) error {
	body, err := encode(doc)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[doc.DocID()]; !ok && !upsert {
		return ErrNotFound
	}
	c.docs[doc.DocID()] = memDoc{body: body, index: indexMillis(doc)}
	return nil
}

func (c *memCollection) DeleteOne(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, id)
	return nil
}

func (c *memCollection) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := c.docs[id]; ok {
			delete(c.docs, id)
			n++
		}
	}
	return n, nil
}

func (c *memCollection) Count(ctx context.Context) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(len(c.docs)), nil
}
