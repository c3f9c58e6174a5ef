package extract

import (
	"context"
	"fmt"
)

// MockProvider is the deterministic extractor used in MOCK_MODE. It answers
// with fenced JSON containing a trailing comma, the two deformations real
// models produce, so the full pipeline exercises the tolerant decoder.
type MockProvider struct{}

// NewMockProvider returns the mock extractor.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Extract returns a canned extraction response derived from the transcript
// length so repeated runs over the same input are stable.
func (m *MockProvider) Extract(_ context.Context, transcript string) (string, error) {
	return fmt.Sprintf("```json\n"+
		`{"action_items":[{"task":"Review the %d-character transcript","owner":"Sam","deadline":"Friday",}],`+
		`"follow_up_email":"Hi team, thanks for the productive meeting. Action items are attached.",`+
		`"summary":"The team reviewed progress and assigned follow-ups.",`+
		`"open_questions":["When is the next milestone review?"],`+
		`"proposed_solutions":["Split the rollout into two phases",],}`+
		"\n```", len(transcript)), nil
}
