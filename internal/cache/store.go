package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sample is one stored (user message, agent response) pair. Duplicates are
// expected and tolerated; there is no uniqueness constraint.
type Sample struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserMessage    string    `json:"user_message"`
	AgentResponse  string    `json:"agent_response"`
	Context        string    `json:"context,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewSample builds a sample with a fresh ID and timestamp.
func NewSample(userMessage, agentResponse string) Sample {
	return Sample{
		ID:            uuid.NewString(),
		UserMessage:   userMessage,
		AgentResponse: agentResponse,
		CreatedAt:     time.Now().UTC(),
	}
}

// Store persists conversation samples for the similarity cache.
type Store interface {
	Append(ctx context.Context, s Sample) error
	Samples(ctx context.Context) ([]Sample, error)
	// Prune removes samples older than maxAge and, if the store still
	// exceeds maxCount, the oldest surplus. Zero values disable the
	// respective limit. Returns the number of samples removed.
	Prune(ctx context.Context, maxAge time.Duration, maxCount int) (int, error)
}

// MemoryStore is the in-process store used when neither Redis nor Postgres
// is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	samples []Sample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, s)
	return nil
}

func (m *MemoryStore) Samples(_ context.Context) ([]Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out, nil
}

func (m *MemoryStore) Prune(_ context.Context, maxAge time.Duration, maxCount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.samples[:0]
	if maxAge > 0 {
		cutoff := time.Now().Add(-maxAge)
		for _, s := range m.samples {
			if s.CreatedAt.After(cutoff) {
				kept = append(kept, s)
			}
		}
	} else {
		kept = m.samples
	}

	removed := len(m.samples) - len(kept)
	if maxCount > 0 && len(kept) > maxCount {
		// Samples are appended in order; drop the oldest surplus.
		surplus := len(kept) - maxCount
		kept = kept[surplus:]
		removed += surplus
	}

	m.samples = append([]Sample(nil), kept...)
	return removed, nil
}
