package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
	"github.com/roamerhq/roamer/pkg/db/models"
)

// MemoryStore is an in-memory Store used in tests and when running without a
// database. It enforces the same idempotency uniqueness the Postgres indexes
// do, so gateway and worker behavior is identical against either backend.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   uint
	threads  map[uuid.UUID]models.Thread
	messages []models.Message
	pois     []models.PointOfInterest
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		threads: map[uuid.UUID]models.Thread{},
	}
}

func (s *MemoryStore) CreateThread(_ context.Context) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := models.Thread{ID: uuid.New(), CreatedAt: time.Now().UTC()}
	s.threads[thread.ID] = thread
	return &thread, nil
}

func (s *MemoryStore) GetThread(_ context.Context, id uuid.UUID) (*models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &thread, nil
}

func (s *MemoryStore) ListThreads(_ context.Context, limit, offset int) ([]models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threads := make([]models.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].CreatedAt.After(threads[j].CreatedAt) })

	if offset >= len(threads) {
		return nil, nil
	}
	threads = threads[offset:]
	if limit > 0 && limit < len(threads) {
		threads = threads[:limit]
	}
	return threads, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg NewMessage) (*models.Message, error) {
	content, err := EncodeContent(msg.Content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		existing := &s.messages[i]
		if existing.ThreadID != msg.ThreadID {
			continue
		}
		if msg.RequestID != "" && existing.RequestID != nil && *existing.RequestID == msg.RequestID {
			return nil, ErrDuplicate
		}
		if msg.SourceMessageID != nil && existing.SourceMessageID != nil && *existing.SourceMessageID == *msg.SourceMessageID {
			return nil, ErrDuplicate
		}
	}

	row := models.Message{
		ID:              s.nextID,
		CreatedAt:       time.Now().UTC(),
		ThreadID:        msg.ThreadID,
		Role:            msg.Role,
		Content:         content,
		SourceMessageID: msg.SourceMessageID,
	}
	if msg.RequestID != "" {
		requestID := msg.RequestID
		row.RequestID = &requestID
	}
	s.nextID++
	s.messages = append(s.messages, row)

	saved := row
	return &saved, nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id uint) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID == id {
			msg := s.messages[i]
			return &msg, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetMessagesAfter(_ context.Context, threadID uuid.UUID, afterID uint, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Message
	for _, msg := range s.messages {
		if msg.ThreadID == threadID && msg.ID > afterID {
			out = append(out, msg)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) FirstAssistantAfter(_ context.Context, threadID uuid.UUID, afterID uint) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.messages {
		if msg.ThreadID == threadID && msg.Role == v1.RoleAssistant && msg.ID > afterID {
			found := msg
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) LatestAssistantMessage(_ context.Context, threadID uuid.UUID) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.messages) - 1; i >= 0; i-- {
		msg := s.messages[i]
		if msg.ThreadID == threadID && msg.Role == v1.RoleAssistant {
			return &msg, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) MessageByRequestID(_ context.Context, threadID uuid.UUID, requestID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.messages {
		if msg.ThreadID == threadID && msg.RequestID != nil && *msg.RequestID == requestID {
			found := msg
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) AssistantReplyFor(_ context.Context, threadID uuid.UUID, sourceMessageID uint) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range s.messages {
		if msg.ThreadID == threadID && msg.SourceMessageID != nil && *msg.SourceMessageID == sourceMessageID {
			found := msg
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListPOIs(_ context.Context, regionCode string, tags []string, limit int) ([]models.PointOfInterest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := map[string]bool{}
	for _, tag := range tags {
		wanted[tag] = true
	}

	var out []models.PointOfInterest
	for _, poi := range s.pois {
		if regionCode != "" && poi.RegionCode != regionCode {
			continue
		}
		if len(wanted) > 0 && !hasAnyTag(poi.Tags, wanted) {
			continue
		}
		out = append(out, poi)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) SeedPOIs(_ context.Context, pois []models.PointOfInterest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pois = append(s.pois, pois...)
	return nil
}

func hasAnyTag(tags []string, wanted map[string]bool) bool {
	for _, tag := range tags {
		if wanted[tag] {
			return true
		}
	}
	return false
}
