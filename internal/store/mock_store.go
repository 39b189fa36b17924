// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject read/write failures

package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInjected is returned by MockStore operations configured to fail.
var ErrInjected = errors.New("injected store failure")

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	profiles map[string]*FarmerProfile // keyed by farmer ID
	turns    map[string][]*Turn        // keyed by farmer ID, chronological

	// Failure injection
	FailReads  bool
	FailWrites bool

	// Counters for assertions
	windowReads int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		profiles: make(map[string]*FarmerProfile),
		turns:    make(map[string][]*Turn),
	}
}

// SetFailReads toggles read failure injection.
func (m *MockStore) SetFailReads(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailReads = fail
}

// SetFailWrites toggles write failure injection.
func (m *MockStore) SetFailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWrites = fail
}

// AppendTurn stores a copy of the turn.
func (m *MockStore) AppendTurn(ctx context.Context, turn *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return ErrInjected
	}

	existing := m.turns[turn.FarmerID]
	if n := len(existing); n > 0 {
		turn.CreatedAt = nextTimestamp(turn.CreatedAt, existing[n-1].CreatedAt)
	}

	// Make a copy to avoid external modification
	t := *turn
	m.turns[turn.FarmerID] = append(existing, &t)
	return nil
}

// ReadWindow returns copies of the farmer's last n turns, oldest first.
func (m *MockStore) ReadWindow(ctx context.Context, farmerID string, n int) ([]*Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.windowReads++
	if m.FailReads {
		return nil, ErrInjected
	}
	if n <= 0 {
		return []*Turn{}, nil
	}

	all := m.turns[farmerID]
	start := 0
	if len(all) > n {
		start = len(all) - n
	}

	out := make([]*Turn, 0, len(all)-start)
	for _, t := range all[start:] {
		c := *t
		out = append(out, &c)
	}
	return out, nil
}

// GetProfile returns a copy of the farmer profile.
func (m *MockStore) GetProfile(ctx context.Context, farmerID string) (*FarmerProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailReads {
		return nil, ErrInjected
	}

	p, ok := m.profiles[farmerID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProfile(p), nil
}

// UpsertProfile creates or updates the farmer profile.
func (m *MockStore) UpsertProfile(ctx context.Context, farmerID string, update ProfileUpdate) (*FarmerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return nil, ErrInjected
	}

	seen := update.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}

	p, ok := m.profiles[farmerID]
	if !ok {
		p = &FarmerProfile{ID: farmerID, CreatedAt: seen}
		m.profiles[farmerID] = p
	}
	p.LastSeenAt = seen
	if update.Region != "" && update.Region != p.Region {
		p.Region = update.Region
		p.Coordinates = nil
	}
	if update.Coordinates != nil {
		c := *update.Coordinates
		p.Coordinates = &c
	}
	if update.Name != "" {
		p.Name = update.Name
	}
	if update.Language != "" {
		p.Language = update.Language
	}
	p.Crops = mergeCrops(p.Crops, update.Crops)
	p.AwaitingLocation = update.AwaitingLocation

	return copyProfile(p), nil
}

func copyProfile(p *FarmerProfile) *FarmerProfile {
	c := *p
	c.Crops = append([]string(nil), p.Crops...)
	if p.Coordinates != nil {
		coords := *p.Coordinates
		c.Coordinates = &coords
	}
	return &c
}

// FindReply returns the newest assistant turn for the message id.
func (m *MockStore) FindReply(ctx context.Context, farmerID, messageID string) (*Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailReads {
		return nil, ErrInjected
	}
	if messageID == "" {
		return nil, ErrNotFound
	}

	turns := m.turns[farmerID]
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Speaker == SpeakerAssistant && t.MessageID == messageID {
			c := *t
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// SearchTurns matches farmer turns containing query, ignoring case.
func (m *MockStore) SearchTurns(ctx context.Context, query string, limit int) ([]*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailReads {
		return nil, ErrInjected
	}

	out := []*Exchange{}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" || limit <= 0 {
		return out, nil
	}

	for _, turns := range m.turns {
		for i, t := range turns {
			if t.Speaker != SpeakerFarmer || !strings.Contains(strings.ToLower(t.Text), q) {
				continue
			}
			f := *t
			ex := &Exchange{Farmer: &f}
			if t.MessageID != "" {
				for _, r := range turns[i+1:] {
					if r.Speaker == SpeakerAssistant && r.MessageID == t.MessageID {
						c := *r
						ex.Reply = &c
					}
				}
			}
			out = append(out, ex)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Farmer.CreatedAt.After(out[j].Farmer.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats returns aggregate counts.
func (m *MockStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailReads {
		return nil, ErrInjected
	}

	st := &Stats{Farmers: len(m.profiles)}
	for _, turns := range m.turns {
		active := false
		for _, t := range turns {
			st.Turns++
			if !t.CreatedAt.Before(since) {
				st.TurnsSince++
				active = true
			}
			if t.MediaRef != "" {
				st.ImageTurns++
			}
		}
		if active {
			st.ActiveFarmersSince++
		}
	}
	return st, nil
}

// Ping always succeeds unless reads are failing.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads {
		return ErrInjected
	}
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// AllTurns returns every stored turn for a farmer, oldest first.
func (m *MockStore) AllTurns(farmerID string) []*Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Turn, 0, len(m.turns[farmerID]))
	for _, t := range m.turns[farmerID] {
		c := *t
		out = append(out, &c)
	}
	return out
}

// WindowReads returns how many times ReadWindow has been called.
func (m *MockStore) WindowReads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.windowReads
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
