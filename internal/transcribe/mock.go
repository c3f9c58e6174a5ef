package transcribe

import (
	"context"
	"sync"
)

// mockSegments is the fixed cycling list the mock provider serves. The
// fourth entry is empty so the silent-chunk path gets exercised too.
var mockSegments = []string{
	"Sarah: thanks everyone for joining, let's get started.",
	"Mike: the dashboard redesign shipped yesterday and feedback is positive.",
	"Sarah: the authentication bug is still open, John will fix it by Friday.",
	"",
	"John: I'll also draft the migration plan for the billing service.",
	"Mike: let's circle back on client onboarding next week.",
}

// MockProvider serves canned segments in order, with an independent counter
// per session so interleaved sessions stay deterministic.
type MockProvider struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewMockProvider returns the mock transcriber used in MOCK_MODE.
func NewMockProvider() *MockProvider {
	return &MockProvider{counters: make(map[string]int)}
}

// Transcribe ignores the audio and returns the next canned segment for the
// session tagged in the context.
func (m *MockProvider) Transcribe(ctx context.Context, _ []byte, _ string) (string, error) {
	sessionID := SessionIDFromContext(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.counters[sessionID]
	m.counters[sessionID] = i + 1
	return mockSegments[i%len(mockSegments)], nil
}

// Reset restarts the cycling counter for a session. Called on session start
// so a fresh session always begins at the first canned segment.
func (m *MockProvider) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, sessionID)
}
