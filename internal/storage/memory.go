package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/milopalmaerts/Crypto/internal/models"
)

// MemoryStore keeps everything in process memory. Used by tests and demos.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*models.User // by normalized email
	holdings map[string][]*models.Holding
	now      func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*models.User),
		holdings: make(map[string][]*models.Holding),
		now:      time.Now,
	}
}

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := NormalizeEmail(user.Email)
	if _, exists := s.users[key]; exists {
		return ErrUserExists
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	user.Email = key

	copied := *user
	s.users[key] = &copied
	return nil
}

func (s *MemoryStore) GetHoldingsByUser(_ context.Context, userID string) ([]models.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Holding, 0, len(s.holdings[userID]))
	for _, h := range s.holdings[userID] {
		out = append(out, *h)
	}
	return out, nil
}

func (s *MemoryStore) AddOrUpdateHolding(_ context.Context, lot *models.Holding) (*models.Holding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, h := range s.holdings[lot.UserID] {
		if h.CryptoID == lot.CryptoID {
			h.Amount, h.AvgPrice = MergeLot(h.Amount, h.AvgPrice, lot.Amount, lot.AvgPrice)
			h.Symbol = lot.Symbol
			h.Name = lot.Name
			h.UpdatedAt = now
			result := *h
			return &result, true, nil
		}
	}

	stored := *lot
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.holdings[lot.UserID] = append(s.holdings[lot.UserID], &stored)
	result := stored
	return &result, false, nil
}

func (s *MemoryStore) DeleteHolding(_ context.Context, userID, cryptoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.holdings[userID]
	for i, h := range list {
		if h.CryptoID == cryptoID {
			s.holdings[userID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) EnsureSchema(context.Context) error { return nil }
func (s *MemoryStore) Ping(context.Context) error         { return nil }
func (s *MemoryStore) Close() error                       { return nil }
