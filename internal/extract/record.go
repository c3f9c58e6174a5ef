// Package extract turns a raw transcript into a structured extraction
// record via an LLM chat-completions call, then salvages the response with
// a tolerant JSON decoder. Model output is never trusted to be valid JSON.
package extract

import "encoding/json"

// ActionItem is a single task extracted from a transcript.
type ActionItem struct {
	Task     string `json:"task"`
	Owner    string `json:"owner"`
	Deadline string `json:"deadline"`
}

// Record is the structured result of an extraction. Every field has a safe
// zero default so a partial model response still yields a usable record.
type Record struct {
	ActionItems       []ActionItem `json:"action_items"`
	FollowUpEmail     string       `json:"follow_up_email"`
	Summary           string       `json:"summary"`
	OpenQuestions     []string     `json:"open_questions"`
	ProposedSolutions []string     `json:"proposed_solutions"`
}

// EmptyRecord returns a record with all collections non-nil, used when
// extraction fails at session stop: the meeting is still saved with its
// transcript and an empty record rather than being lost.
func EmptyRecord() *Record {
	return &Record{
		ActionItems:       []ActionItem{},
		OpenQuestions:     []string{},
		ProposedSolutions: []string{},
	}
}

// Marshal serializes the record for storage, normalizing nil collections
// first so the stored JSON always carries arrays.
func (r *Record) Marshal() (string, error) {
	r.normalize()
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// normalize replaces nil collections with empty ones after decoding.
func (r *Record) normalize() {
	if r.ActionItems == nil {
		r.ActionItems = []ActionItem{}
	}
	if r.OpenQuestions == nil {
		r.OpenQuestions = []string{}
	}
	if r.ProposedSolutions == nil {
		r.ProposedSolutions = []string{}
	}
}
