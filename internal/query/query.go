// Package query is the downstream read surface. Its one hard rule: the four
// maturity outcomes stay distinguishable, and CONFLICTING is never collapsed
// into a best-guess value.
package query

import (
	"sort"

	"github.com/ppiankov/concord/internal/consolidate"
	"github.com/ppiankov/concord/internal/model"
	"github.com/ppiankov/concord/internal/normalize"
)

// Outcome classifies an answer.
type Outcome string

const (
	OutcomeValidated   Outcome = "validated"   // Single agreed value
	OutcomeCandidate   Outcome = "candidate"   // Probable but unconfirmed
	OutcomeConflicting Outcome = "conflicting" // All alternatives, with provenance
	OutcomeAmbiguous   Outcome = "ambiguous"   // Relation type itself uncertain
)

// Alternative is one asserted value with its provenance, surfaced for
// conflicting facts.
type Alternative struct {
	Value   string   `json:"value"`
	Negated bool     `json:"negated"`
	Sources []string `json:"sources"` // Distinct contributing documents
}

// Answer is the response for one fact (one scope).
type Answer struct {
	Outcome      Outcome       `json:"outcome"`
	Subject      string        `json:"subject"`
	Predicate    string        `json:"predicate"`
	Scope        string        `json:"scope,omitempty"`
	Value        string        `json:"value,omitempty"`      // Validated and candidate outcomes
	Negated      bool          `json:"negated,omitempty"`
	Disclaimer   string        `json:"disclaimer,omitempty"` // Set for candidate outcomes
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Sources      int           `json:"sources"`
	Confidence   float64       `json:"confidence"` // Median evidence confidence
}

// Service answers (subject, attribute) requests from the fact store.
type Service struct {
	store *consolidate.Store
}

// NewService creates a query service.
func NewService(store *consolidate.Store) *Service {
	return &Service{store: store}
}

// Lookup returns one answer per matching fact (facts differ by scope).
// attribute may be a claim attribute or a relation predicate; empty matches
// every predicate for the subject. When nothing matches it returns
// model.ErrNoKnowledge, an explicit signal distinct from "found but
// contested", which arrives as answers with the conflicting outcome.
func (s *Service) Lookup(subject, attribute string) ([]Answer, error) {
	subjectKey := normalize.Key(subject)
	predicate := normalize.Key(attribute)

	facts := s.store.BySubject(subjectKey, predicate)
	if len(facts) == 0 {
		return nil, model.ErrNoKnowledge
	}

	answers := make([]Answer, 0, len(facts))
	for i := range facts {
		answers = append(answers, answerFor(&facts[i]))
	}
	sort.Slice(answers, func(i, j int) bool {
		if answers[i].Predicate != answers[j].Predicate {
			return answers[i].Predicate < answers[j].Predicate
		}
		return answers[i].Scope < answers[j].Scope
	})
	return answers, nil
}

func answerFor(fact *model.CanonicalFact) Answer {
	a := Answer{
		Subject:    fact.Key.Subject,
		Predicate:  fact.Key.Predicate,
		Scope:      fact.Key.Scope,
		Sources:    fact.Stats.DistinctSources,
		Confidence: fact.Stats.MedianConfidence,
	}

	switch fact.Maturity {
	case model.MaturityValidated:
		// The reported value is the one the sources converged on, not the
		// first-seen variant.
		a.Outcome = OutcomeValidated
		agreed, _ := fact.BestCorroborated()
		a.Value = agreed.Value
		a.Negated = agreed.Negated

	case model.MaturityConflicting:
		// Every variant survives with provenance. No winner, not even by
		// recency or source count.
		a.Outcome = OutcomeConflicting
		for _, v := range fact.Variants() {
			docs := make(map[string]struct{})
			var sources []string
			for _, ev := range v.Evidence {
				if _, seen := docs[ev.DocumentID]; !seen {
					docs[ev.DocumentID] = struct{}{}
					sources = append(sources, ev.DocumentID)
				}
			}
			a.Alternatives = append(a.Alternatives, Alternative{
				Value:   v.Value,
				Negated: v.Negated,
				Sources: sources,
			})
		}

	case model.MaturityAmbiguousType:
		a.Outcome = OutcomeAmbiguous
		a.Disclaimer = "relation type is uncertain; primary and alternate hypotheses are too close"

	default:
		a.Outcome = OutcomeCandidate
		agreed, _ := fact.BestCorroborated()
		a.Value = agreed.Value
		a.Negated = agreed.Negated
		a.Disclaimer = "unconfirmed: single source or weak corroboration"
	}
	return a
}
