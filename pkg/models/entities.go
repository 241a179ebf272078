package models

import (
	"time"

	"github.com/google/uuid"
)

// The entity structs below are the canonical shape of the platform's
// records. The retention engine itself operates on RecordMeta/Record
// projections of these rows; the structs are shared with the application
// surface and the archive format.
//
// Every entity carries the lifecycle pair: CreatedAt is immutable, and a
// nil TombstonedAt means Active. Purged records do not exist in the store.

// User owns zero or more Experiences.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	DisplayName  string     `json:"display_name"`
	CreatedAt    time.Time  `json:"created_at"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
}

// Experience is a shared piece of content owned by exactly one User.
type Experience struct {
	ID           uuid.UUID  `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	CreatedAt    time.Time  `json:"created_at"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
}

// Prompt belongs to an Experience and owns its PromptRatings.
type Prompt struct {
	ID           uuid.UUID  `json:"id"`
	ExperienceID uuid.UUID  `json:"experience_id"`
	Content      string     `json:"content"`
	Position     int        `json:"position"`
	CreatedAt    time.Time  `json:"created_at"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
}

// Comment is a leaf entity owned by an Experience. UserID is the authoring
// reference; it is not an ownership edge and does not participate in
// cascades.
type Comment struct {
	ID           uuid.UUID  `json:"id"`
	ExperienceID uuid.UUID  `json:"experience_id"`
	UserID       uuid.UUID  `json:"user_id"`
	Body         string     `json:"body"`
	CreatedAt    time.Time  `json:"created_at"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
}

// Reaction is a leaf entity owned by an Experience. Reactions are cheap to
// regenerate and are exempt from archival.
type Reaction struct {
	ID           uuid.UUID  `json:"id"`
	ExperienceID uuid.UUID  `json:"experience_id"`
	UserID       uuid.UUID  `json:"user_id"`
	Kind         string     `json:"kind"`
	CreatedAt    time.Time  `json:"created_at"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
}

// Reaction kind constants.
const (
	ReactionLike  = "like"
	ReactionSpark = "spark"
	ReactionSave  = "save"
)

// PromptRating is a leaf entity owned by a Prompt.
type PromptRating struct {
	ID           uuid.UUID  `json:"id"`
	PromptID     uuid.UUID  `json:"prompt_id"`
	UserID       uuid.UUID  `json:"user_id"`
	Score        int        `json:"score"`
	CreatedAt    time.Time  `json:"created_at"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
}
