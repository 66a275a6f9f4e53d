package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBotStore keeps bots in process. Returned bots are copies.
type MemoryBotStore struct {
	mu   sync.RWMutex
	bots map[string]*Bot
	now  func() time.Time
}

func NewMemoryBotStore() *MemoryBotStore {
	return &MemoryBotStore{bots: make(map[string]*Bot), now: time.Now}
}

func (s *MemoryBotStore) List(ctx context.Context) ([]*Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(), nil
}

func (s *MemoryBotStore) Batch(ctx context.Context, offset, limit int) ([]*Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.sortedLocked(), offset, limit), nil
}

func (s *MemoryBotStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bots), nil
}

func (s *MemoryBotStore) Get(ctx context.Context, id string) (*Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, ErrBotNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryBotStore) GetByToken(ctx context.Context, token string) (*Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bots {
		if token != "" && b.Token == token {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrBotNotFound
}

func (s *MemoryBotStore) Create(ctx context.Context, b *Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[b.ID]; ok {
		return ErrBotExists
	}
	now := s.now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	cp := *b
	s.bots[b.ID] = &cp
	return nil
}

func (s *MemoryBotStore) Update(ctx context.Context, id string, p BotPatch) (*Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, ErrBotNotFound
	}
	p.Apply(b)
	b.UpdatedAt = s.now().UTC()
	cp := *b
	return &cp, nil
}

func (s *MemoryBotStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[id]; !ok {
		return ErrBotNotFound
	}
	delete(s.bots, id)
	return nil
}

// sortedLocked returns copies ordered by creation time, then id.
func (s *MemoryBotStore) sortedLocked() []*Bot {
	out := make([]*Bot, 0, len(s.bots))
	for _, b := range s.bots {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MemoryHistoryStore keeps turns in process in append order.
type MemoryHistoryStore struct {
	mu     sync.RWMutex
	turns  []Turn
	nextID int64
	now    func() time.Time
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{nextID: 1, now: time.Now}
}

func (s *MemoryHistoryStore) Append(ctx context.Context, t Turn) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextID
	s.nextID++
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	s.turns = append(s.turns, t)
	return t, nil
}

func (s *MemoryHistoryStore) BySession(ctx context.Context, sessionID string, limit, offset int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Turn
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			matched = append(matched, t)
		}
	}
	return page(matched, offset, limit), nil
}

func (s *MemoryHistoryStore) BySessionAndBot(ctx context.Context, botID, sessionID string, limit, offset int) ([]Turn, error) {
	return page(s.botSession(botID, sessionID), offset, limit), nil
}

func (s *MemoryHistoryStore) RecentBySessionAndBot(ctx context.Context, botID, sessionID string, n int) ([]Turn, error) {
	matched := s.botSession(botID, sessionID)
	if n > 0 && len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return page(matched, 0, 0), nil
}

func (s *MemoryHistoryStore) botSession(botID, sessionID string) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Turn
	for _, t := range s.turns {
		if t.BotID == botID && t.SessionID == sessionID {
			matched = append(matched, t)
		}
	}
	return matched
}

func (s *MemoryHistoryStore) SessionsByBot(ctx context.Context, botID string, limit, offset int) ([]SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []SessionSummary
	for _, t := range s.turns {
		if t.BotID != botID {
			continue
		}
		if _, ok := seen[t.SessionID]; ok {
			continue
		}
		seen[t.SessionID] = struct{}{}
		out = append(out, SessionSummary{SessionID: t.SessionID, FirstMessage: t})
	}
	return page(out, offset, limit), nil
}

// page applies offset and limit; limit <= 0 means no limit. The result is
// never nil.
func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
