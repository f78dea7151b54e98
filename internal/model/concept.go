package model

import "github.com/google/uuid"

// RoleTag is an informational classification of a concept. It never grants
// matching priority on its own.
type RoleTag string

const (
	RoleEntity   RoleTag = "entity"   // Concrete thing (system, org, artifact)
	RoleTopic    RoleTag = "topic"    // Broad subject area
	RoleProcess  RoleTag = "process"  // Activity or procedure
	RoleOverflow RoleTag = "overflow" // Designated overflow bucket
)

// OverflowKey is the reserved normalization key of the overflow bucket.
// Candidates with no adequate match attach here so they stay auditable.
const OverflowKey = "__overflow__"

// Trigger is a literal lexical cue for a concept. A word-boundary match of
// the trigger text in a candidate earns the strongest lexical bonus, but only
// within the same language.
type Trigger struct {
	Text     string `json:"text"`               // Literal trigger string
	Language string `json:"language,omitempty"` // BCP-47-ish tag, e.g. "en"
}

// Concept is the canonical, deduplicated unit of meaning knowledge attaches to.
// All matching and merge logic keys on NormKey; the display name is never a
// lookup key.
type Concept struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`           // Display name, free-form
	NormKey       string    `json:"norm_key"`       // Case/punctuation/diacritics-insensitive key
	Role          RoleTag   `json:"role,omitempty"` // Informational only
	Triggers      []Trigger `json:"triggers,omitempty"`
	AcceptedLinks int       `json:"accepted_links"` // Running accepted-link count, frozen per batch
}

// IsOverflow reports whether this concept is the overflow bucket.
func (c *Concept) IsOverflow() bool {
	return c.NormKey == OverflowKey
}
