package scoring

import (
	"context"
	"sync"

	"achievekit/core"
)

// DefaultProfile is the weights key used when a caller names none.
const DefaultProfile = "default"

// MemoryWeights is an in-memory WeightsStore seeded with the default profile.
type MemoryWeights struct {
	mu       sync.RWMutex
	profiles map[string]Weights
}

func NewMemoryWeights() *MemoryWeights {
	return &MemoryWeights{profiles: map[string]Weights{DefaultProfile: DefaultWeights()}}
}

func (m *MemoryWeights) GetWeights(_ context.Context, key string) (Weights, error) {
	if key == "" {
		key = DefaultProfile
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.profiles[key]
	if !ok {
		return Weights{}, core.NotFound("weights profile %q", key)
	}
	return w, nil
}

func (m *MemoryWeights) PutWeights(_ context.Context, key string, w Weights) error {
	if key == "" {
		return core.Validation("weights profile key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[key] = w
	return nil
}

func (m *MemoryWeights) DeleteWeights(_ context.Context, key string) error {
	if key == DefaultProfile {
		return core.Validation("the default weights profile cannot be deleted")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[key]; !ok {
		return core.NotFound("weights profile %q", key)
	}
	delete(m.profiles, key)
	return nil
}

var _ WeightsStore = (*MemoryWeights)(nil)
