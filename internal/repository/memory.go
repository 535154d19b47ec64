package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sahelsms/orange-gateway/internal/model"
)

// MemoryMessageRepository is the ephemeral ledger used when persistence is
// disabled. Same contract as MessageRepository, including delivery-receipt
// lookups, so callers never fork on the storage mode.
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*model.Message
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: make(map[string]*model.Message)}
}

func (r *MemoryMessageRepository) Create(_ context.Context, msg *model.Message) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *msg
	r.messages[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *MemoryMessageRepository) Update(_ context.Context, msg *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.messages[msg.ID]
	if !ok {
		return ErrNotFound
	}
	stored.SMSType = msg.SMSType
	stored.Status = msg.Status
	stored.ReferenceCode = msg.ReferenceCode
	stored.DeliveryStatusAt = msg.DeliveryStatusAt
	return nil
}

func (r *MemoryMessageRepository) GetByID(_ context.Context, id string) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.messages[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (r *MemoryMessageRepository) GetByReferenceCode(_ context.Context, ref string) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.messages {
		if m.Direction == model.DirectionOutgoing && m.ReferenceCode == ref && ref != "" {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryMessageRepository) List(_ context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*model.Message
	for _, m := range r.messages {
		if !matches(m, f) {
			continue
		}
		cp := *m
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		if f.Desc {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := int64(len(matched))

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func matches(m *model.Message, f model.MessageFilter) bool {
	if f.Direction != nil && m.Direction != *f.Direction {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if m.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Identity != nil && *f.Identity != "" &&
		m.SenderAddress != *f.Identity && m.DestinationAddress != *f.Identity {
		return false
	}
	if f.From != nil && m.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !m.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

// MemoryTokenStore keeps the refreshed token in memory only.
type MemoryTokenStore struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) SaveToken(_ context.Context, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.expiresAt = token, expiresAt
	return nil
}
