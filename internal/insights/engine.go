// Package insights computes the cross-meeting intelligence cards and the
// what-changed diff. All computation is deterministic over the stored
// transcripts and extraction records; no provider calls happen here.
package insights

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/recapio/recap-server/internal/analysis"
	"github.com/recapio/recap-server/internal/extract"
	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/storage/sqlite"
)

// Card type names, one per insight variant.
const (
	CardRecurringTopics       = "recurring_topics"
	CardUnresolvedItems       = "unresolved_items"
	CardFollowUpSignals       = "follow_up_signals"
	CardRecurringParticipants = "recurring_participants"
	CardNewTopics             = "new_topics"
	CardRecurringSolutions    = "recurring_solutions"
)

// Card limits.
const (
	maxSharedTokens    = 6
	maxTopicMeetings   = 5
	maxUnresolvedItems = 5
	maxParticipants    = 5
	maxNewTopics       = 8
	maxSolutionMatches = 5
)

// PriorWindow caps how many prior meetings feed insight computation.
const PriorWindow = 20

// followUpPhrases is the fixed list scanned for follow-up references.
var followUpPhrases = []string{
	"follow up", "following up", "last time", "previously", "as discussed",
	"we agreed", "circling back", "checking in on", "update on",
}

// PriorRef points an insight at the prior meeting that produced it.
type PriorRef struct {
	MeetingID    string   `json:"meeting_id"`
	Title        string   `json:"title"`
	SharedTokens []string `json:"shared_tokens,omitempty"`
}

// UnresolvedItem is a prior action item that still echoes in the focal
// transcript.
type UnresolvedItem struct {
	Task         string `json:"task"`
	Owner        string `json:"owner,omitempty"`
	MeetingID    string `json:"meeting_id"`
	MeetingTitle string `json:"meeting_title"`
}

// Participant is a recurring attendee with the number of meetings they
// appeared in, the focal meeting included.
type Participant struct {
	Name         string `json:"name"`
	MeetingCount int    `json:"meeting_count"`
}

// SolutionMatch pairs a current proposed solution with a prior one sharing
// at least two keywords.
type SolutionMatch struct {
	Current      string `json:"current"`
	Prior        string `json:"prior"`
	MeetingID    string `json:"meeting_id"`
	MeetingTitle string `json:"meeting_title"`
}

// Card is one insight entry. Only the fields of its variant are populated.
type Card struct {
	Type         string           `json:"type"`
	Tokens       []string         `json:"tokens,omitempty"`
	Meetings     []PriorRef       `json:"meetings,omitempty"`
	Items        []UnresolvedItem `json:"items,omitempty"`
	Phrases      []string         `json:"phrases,omitempty"`
	Participants []Participant    `json:"participants,omitempty"`
	Solutions    []SolutionMatch  `json:"solutions,omitempty"`
}

// Engine computes insights over stored meetings. It writes to the store in
// exactly one place: unresolved items are filed as tracked issues.
type Engine struct {
	store  *sqlite.Store
	logger *logger.Logger
}

// NewEngine creates the insight engine.
func NewEngine(store *sqlite.Store, log *logger.Logger) *Engine {
	return &Engine{store: store, logger: log.WithComponent("insights")}
}

// decodeRecord parses a stored extraction record, degrading to an empty
// record when the column holds anything unparsable.
func decodeRecord(actionItems string) *extract.Record {
	rec := extract.EmptyRecord()
	if actionItems == "" || actionItems == "{}" {
		return rec
	}
	if err := json.Unmarshal([]byte(actionItems), rec); err != nil {
		return extract.EmptyRecord()
	}
	return rec
}

// Compute produces up to six cards for the focal meeting against the user's
// prior meetings (newest first, excluding the focal one). Unresolved items
// are also filed as tracked issues, deduplicated against open ones.
func (e *Engine) Compute(ctx context.Context, focal *sqlite.Meeting, priors []*sqlite.Meeting) ([]Card, error) {
	cards := make([]Card, 0, 6)

	focalKeywords := analysis.Keywords(focal.RawNotes)
	focalPeople := analysis.People(focal.RawNotes)
	focalRecord := decodeRecord(focal.ActionItems)

	if card, ok := e.recurringTopics(focalKeywords, priors); ok {
		cards = append(cards, card)
	}
	if card, ok := e.unresolvedItems(ctx, focal, priors); ok {
		cards = append(cards, card)
	}
	if card, ok := followUpSignals(focal.RawNotes); ok {
		cards = append(cards, card)
	}
	if card, ok := recurringParticipants(focalPeople, priors); ok {
		cards = append(cards, card)
	}
	if card, ok := newTopics(focalKeywords, priors); ok {
		cards = append(cards, card)
	}
	if card, ok := recurringSolutions(focalRecord, priors); ok {
		cards = append(cards, card)
	}

	return cards, nil
}

func (e *Engine) recurringTopics(focalKeywords []string, priors []*sqlite.Meeting) (Card, bool) {
	card := Card{Type: CardRecurringTopics}
	seen := map[string]struct{}{}

	for _, prior := range priors {
		shared := sharedTokenList(focalKeywords, analysis.Keywords(prior.RawNotes))
		if len(shared) < 2 {
			continue
		}
		for _, token := range shared {
			if _, ok := seen[token]; !ok {
				seen[token] = struct{}{}
				card.Tokens = append(card.Tokens, token)
			}
		}
		if len(card.Meetings) < maxTopicMeetings {
			card.Meetings = append(card.Meetings, PriorRef{
				MeetingID:    prior.ID,
				Title:        prior.Title,
				SharedTokens: shared,
			})
		}
	}

	if len(card.Tokens) > maxSharedTokens {
		card.Tokens = card.Tokens[:maxSharedTokens]
	}
	return card, len(card.Meetings) > 0
}

// unresolvedItems flags prior action items whose keywords still appear in
// the focal transcript. The single-keyword substring match is intentionally
// lossy; overlap is treated as a signal, not proof.
func (e *Engine) unresolvedItems(ctx context.Context, focal *sqlite.Meeting, priors []*sqlite.Meeting) (Card, bool) {
	card := Card{Type: CardUnresolvedItems}
	focalLower := strings.ToLower(focal.RawNotes)
	seen := map[string]struct{}{}

	for _, prior := range priors {
		rec := decodeRecord(prior.ActionItems)
		for _, item := range rec.ActionItems {
			norm := sqlite.NormalizeIssueText(item.Task)
			if norm == "" {
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			if !anyKeywordInText(item.Task, focalLower) {
				continue
			}
			seen[norm] = struct{}{}
			if len(card.Items) < maxUnresolvedItems {
				card.Items = append(card.Items, UnresolvedItem{
					Task:         item.Task,
					Owner:        item.Owner,
					MeetingID:    prior.ID,
					MeetingTitle: prior.Title,
				})
			}
			e.fileTrackedIssue(ctx, focal.UserID, item.Task, prior)
		}
	}

	return card, len(card.Items) > 0
}

// fileTrackedIssue records an unresolved item once; an open issue with the
// same normalized text suppresses the duplicate.
func (e *Engine) fileTrackedIssue(ctx context.Context, userID, task string, source *sqlite.Meeting) {
	_, err := e.store.FindOpenIssueByText(ctx, userID, task)
	if err == nil {
		return
	}
	if err != sqlite.ErrNotFound {
		e.logger.Warn("tracked issue lookup failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
		return
	}

	sourceID := source.ID
	issue := &sqlite.TrackedIssue{
		UserID:             userID,
		IssueText:          task,
		SourceMeetingID:    &sourceID,
		SourceMeetingTitle: source.Title,
	}
	if err := e.store.CreateTrackedIssue(ctx, issue); err != nil {
		e.logger.Warn("failed to file tracked issue",
			slog.String("user_id", userID), slog.String("error", err.Error()))
	}
}

func anyKeywordInText(task, textLower string) bool {
	for _, kw := range analysis.Keywords(task) {
		if strings.Contains(textLower, kw) {
			return true
		}
	}
	return false
}

func followUpSignals(rawNotes string) (Card, bool) {
	card := Card{Type: CardFollowUpSignals}
	lower := strings.ToLower(rawNotes)
	for _, phrase := range followUpPhrases {
		if strings.Contains(lower, phrase) {
			card.Phrases = append(card.Phrases, phrase)
		}
	}
	return card, len(card.Phrases) > 0
}

func recurringParticipants(focalPeople []string, priors []*sqlite.Meeting) (Card, bool) {
	card := Card{Type: CardRecurringParticipants}
	focalSet := map[string]struct{}{}
	for _, name := range focalPeople {
		focalSet[name] = struct{}{}
	}

	counts := map[string]int{}
	order := map[string]int{}
	for _, prior := range priors {
		for _, name := range analysis.People(prior.RawNotes) {
			if _, ok := focalSet[name]; !ok {
				continue
			}
			if _, seen := counts[name]; !seen {
				order[name] = len(order)
			}
			counts[name]++
		}
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return order[names[i]] < order[names[j]]
	})
	if len(names) > maxParticipants {
		names = names[:maxParticipants]
	}

	for _, name := range names {
		card.Participants = append(card.Participants, Participant{
			Name:         analysis.TitleCase(name),
			MeetingCount: counts[name] + 1, // includes the focal meeting
		})
	}
	return card, len(card.Participants) > 0
}

func newTopics(focalKeywords []string, priors []*sqlite.Meeting) (Card, bool) {
	card := Card{Type: CardNewTopics}
	priorTokens := map[string]struct{}{}
	for _, prior := range priors {
		for _, token := range analysis.Keywords(prior.RawNotes) {
			priorTokens[token] = struct{}{}
		}
	}

	for _, token := range focalKeywords {
		if _, ok := priorTokens[token]; ok {
			continue
		}
		card.Tokens = append(card.Tokens, token)
		if len(card.Tokens) == maxNewTopics {
			break
		}
	}
	// A first meeting makes every token "new", which is noise, not insight.
	if len(priors) == 0 {
		return card, false
	}
	return card, len(card.Tokens) > 0
}

func recurringSolutions(focalRecord *extract.Record, priors []*sqlite.Meeting) (Card, bool) {
	card := Card{Type: CardRecurringSolutions}
	seen := map[string]struct{}{}

	for _, current := range focalRecord.ProposedSolutions {
		norm := sqlite.NormalizeIssueText(current)
		if _, dup := seen[norm]; dup {
			continue
		}
		currentKeywords := analysis.Keywords(current)

	priorLoop:
		for _, prior := range priors {
			rec := decodeRecord(prior.ActionItems)
			for _, priorSolution := range rec.ProposedSolutions {
				if analysis.SharedKeywords(currentKeywords, analysis.Keywords(priorSolution)) < 2 {
					continue
				}
				seen[norm] = struct{}{}
				card.Solutions = append(card.Solutions, SolutionMatch{
					Current:      current,
					Prior:        priorSolution,
					MeetingID:    prior.ID,
					MeetingTitle: prior.Title,
				})
				break priorLoop
			}
		}
		if len(card.Solutions) == maxSolutionMatches {
			break
		}
	}
	return card, len(card.Solutions) > 0
}

func sharedTokenList(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, token := range b {
		set[token] = struct{}{}
	}
	shared := make([]string, 0, 4)
	for _, token := range a {
		if _, ok := set[token]; ok {
			shared = append(shared, token)
		}
	}
	return shared
}
