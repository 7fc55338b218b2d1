// Package store: in-memory implementation used by tests and as the default
// when no database DSN is configured.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/convograph/convograph/internal/models"
)

// InMemoryStore is a mutex-guarded map-backed Store. Records are deep-copied
// through JSON on the way in and out so callers never share memory with the
// store, matching the read-modify-write contract of the SQL backends.
type InMemoryStore struct {
	mu            sync.RWMutex
	blocks        map[string]*models.Block
	blockOrder    []string
	conversations map[string]*models.Conversation
	subscribers   map[string]*models.Subscriber
	contextVars   map[string]*models.ContextVar
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		blocks:        make(map[string]*models.Block),
		conversations: make(map[string]*models.Conversation),
		subscribers:   make(map[string]*models.Subscriber),
		contextVars:   make(map[string]*models.ContextVar),
	}
}

func deepCopy[T any](src *T) *T {
	if src == nil {
		return nil
	}
	raw, err := json.Marshal(src)
	if err != nil {
		panic(fmt.Sprintf("store: deep copy marshal: %v", err))
	}
	dst := new(T)
	if err := json.Unmarshal(raw, dst); err != nil {
		panic(fmt.Sprintf("store: deep copy unmarshal: %v", err))
	}
	return dst
}

func (s *InMemoryStore) CreateBlock(ctx context.Context, b *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.blocks[b.ID]; !exists {
		s.blockOrder = append(s.blockOrder, b.ID)
	}
	s.blocks[b.ID] = deepCopy(b)
	return nil
}

func (s *InMemoryStore) GetBlock(ctx context.Context, id string) (*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.blocks[id]), nil
}

func (s *InMemoryStore) GetBlocks(ctx context.Context, ids []string) ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blocks := make([]*models.Block, 0, len(ids))
	for _, id := range ids {
		if b, ok := s.blocks[id]; ok {
			blocks = append(blocks, deepCopy(b))
		}
	}
	return blocks, nil
}

// FindEntryBlocks returns starting blocks in creation order.
func (s *InMemoryStore) FindEntryBlocks(ctx context.Context) ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var blocks []*models.Block
	for _, id := range s.blockOrder {
		if b := s.blocks[id]; b != nil && b.StartsConversation {
			blocks = append(blocks, deepCopy(b))
		}
	}
	return blocks, nil
}

func (s *InMemoryStore) UpdateBlock(ctx context.Context, b *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[b.ID]; !ok {
		return fmt.Errorf("update block %s: %w", b.ID, models.ErrBlockNotFound)
	}
	s.blocks[b.ID] = deepCopy(b)
	return nil
}

func (s *InMemoryStore) DeleteBlock(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, id)
	for i, bid := range s.blockOrder {
		if bid == id {
			s.blockOrder = append(s.blockOrder[:i], s.blockOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *InMemoryStore) CreateConversation(ctx context.Context, c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = deepCopy(c)
	return nil
}

func (s *InMemoryStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.conversations[id]), nil
}

func (s *InMemoryStore) GetActiveConversation(ctx context.Context, subscriberID string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.Sender == subscriberID && c.Active {
			return deepCopy(c), nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) UpdateConversation(ctx context.Context, c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; !ok {
		return fmt.Errorf("update conversation %s: not found", c.ID)
	}
	s.conversations[c.ID] = deepCopy(c)
	return nil
}

func (s *InMemoryStore) EndConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("end conversation %s: not found", id)
	}
	c.Active = false
	return nil
}

func (s *InMemoryStore) CreateSubscriber(ctx context.Context, sub *models.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID] = deepCopy(sub)
	return nil
}

func (s *InMemoryStore) GetSubscriber(ctx context.Context, id string) (*models.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.subscribers[id]), nil
}

func (s *InMemoryStore) GetSubscriberByForeignID(ctx context.Context, channel, foreignID string) (*models.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscribers {
		if sub.Channel == channel && sub.ForeignID == foreignID {
			return deepCopy(sub), nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) UpdateSubscriber(ctx context.Context, sub *models.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[sub.ID]; !ok {
		return fmt.Errorf("update subscriber %s: not found", sub.ID)
	}
	s.subscribers[sub.ID] = deepCopy(sub)
	return nil
}

func (s *InMemoryStore) CreateContextVar(ctx context.Context, v *models.ContextVar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextVars[v.Name] = deepCopy(v)
	return nil
}

func (s *InMemoryStore) GetContextVarByName(ctx context.Context, name string) (*models.ContextVar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return deepCopy(s.contextVars[name]), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
