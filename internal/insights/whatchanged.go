package insights

import (
	"strings"

	"github.com/recapio/recap-server/internal/analysis"
	"github.com/recapio/recap-server/internal/storage/sqlite"
)

// WhatChanged diffs the focal meeting against its single most recent
// predecessor. All lists are normalized to lowercase-trimmed strings before
// the set difference.
type WhatChanged struct {
	HasPrior   bool   `json:"has_prior"`
	PriorID    string `json:"prior_meeting_id,omitempty"`
	PriorTitle string `json:"prior_title,omitempty"`

	NewActionItems    []string `json:"new_action_items,omitempty"`
	ResolvedSinceLast []string `json:"resolved_since_last,omitempty"`

	NewSolutions     []string `json:"new_solutions,omitempty"`
	DroppedSolutions []string `json:"dropped_solutions,omitempty"`

	NewOpenQuestions      []string `json:"new_open_questions,omitempty"`
	ResolvedOpenQuestions []string `json:"resolved_open_questions,omitempty"`

	NewTopics     []string `json:"new_topics,omitempty"`
	DroppedTopics []string `json:"dropped_topics,omitempty"`
}

// ComputeWhatChanged diffs focal against prior. A nil prior yields
// {has_prior: false} with every list empty.
func ComputeWhatChanged(focal *sqlite.Meeting, prior *sqlite.Meeting) *WhatChanged {
	if prior == nil {
		return &WhatChanged{HasPrior: false}
	}

	focalRec := decodeRecord(focal.ActionItems)
	priorRec := decodeRecord(prior.ActionItems)

	focalTasks := make([]string, 0, len(focalRec.ActionItems))
	for _, item := range focalRec.ActionItems {
		focalTasks = append(focalTasks, item.Task)
	}
	priorTasks := make([]string, 0, len(priorRec.ActionItems))
	for _, item := range priorRec.ActionItems {
		priorTasks = append(priorTasks, item.Task)
	}

	wc := &WhatChanged{
		HasPrior:   true,
		PriorID:    prior.ID,
		PriorTitle: prior.Title,
	}
	wc.NewActionItems, wc.ResolvedSinceLast = setDiff(focalTasks, priorTasks)
	wc.NewSolutions, wc.DroppedSolutions = setDiff(focalRec.ProposedSolutions, priorRec.ProposedSolutions)
	wc.NewOpenQuestions, wc.ResolvedOpenQuestions = setDiff(focalRec.OpenQuestions, priorRec.OpenQuestions)
	wc.NewTopics, wc.DroppedTopics = setDiff(
		analysis.Keywords(focal.RawNotes), analysis.Keywords(prior.RawNotes))
	return wc
}

// setDiff normalizes both lists and returns (a minus b, b minus a),
// preserving each side's order and dropping empties and duplicates.
func setDiff(a, b []string) (onlyA, onlyB []string) {
	normalize := func(items []string) ([]string, map[string]struct{}) {
		out := make([]string, 0, len(items))
		set := make(map[string]struct{}, len(items))
		for _, item := range items {
			norm := strings.ToLower(strings.TrimSpace(item))
			if norm == "" {
				continue
			}
			if _, dup := set[norm]; dup {
				continue
			}
			set[norm] = struct{}{}
			out = append(out, norm)
		}
		return out, set
	}

	normA, setA := normalize(a)
	normB, setB := normalize(b)

	onlyA = make([]string, 0)
	for _, item := range normA {
		if _, ok := setB[item]; !ok {
			onlyA = append(onlyA, item)
		}
	}
	onlyB = make([]string, 0)
	for _, item := range normB {
		if _, ok := setA[item]; !ok {
			onlyB = append(onlyB, item)
		}
	}
	return onlyA, onlyB
}
