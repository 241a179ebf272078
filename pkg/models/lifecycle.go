package models

// EntityType identifies one of the platform's record types.
type EntityType string

// Entity type constants. These double as the sweep configuration keys and
// the archive namespace, so they must stay stable.
const (
	EntityUser         EntityType = "user"
	EntityExperience   EntityType = "experience"
	EntityPrompt       EntityType = "prompt"
	EntityComment      EntityType = "comment"
	EntityReaction     EntityType = "reaction"
	EntityPromptRating EntityType = "prompt_rating"
)

// AllEntityTypes contains every entity type in cascade (top-down) order.
var AllEntityTypes = []EntityType{
	EntityUser,
	EntityExperience,
	EntityPrompt,
	EntityComment,
	EntityReaction,
	EntityPromptRating,
}

// IsValidEntityType checks if the given entity type is known.
func IsValidEntityType(t EntityType) bool {
	for _, known := range AllEntityTypes {
		if known == t {
			return true
		}
	}
	return false
}

// LifecycleState is the retention state of a single record.
type LifecycleState string

const (
	// StateActive is the initial state: the record is visible to the
	// application and not scheduled for removal.
	StateActive LifecycleState = "active"
	// StateTombstoned means the record is logically deleted but still
	// present in the store, awaiting its grace period.
	StateTombstoned LifecycleState = "tombstoned"
	// StatePurged means the record has been permanently removed. It is
	// represented by absence from the store and is terminal.
	StatePurged LifecycleState = "purged"
)

// legalTransitions enumerates the allowed state changes. Purged is terminal
// and Active records must pass through Tombstoned before purge.
var legalTransitions = map[LifecycleState][]LifecycleState{
	StateActive:     {StateTombstoned},
	StateTombstoned: {StateActive, StatePurged},
	StatePurged:     {},
}

// CanTransition reports whether moving a record from one lifecycle state to
// another is legal.
func CanTransition(from, to LifecycleState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reason categorizes why an admin-triggered tombstone was requested.
type Reason string

const (
	// ReasonAdmin is an ordinary administrative removal and follows the
	// normal grace-period lifecycle.
	ReasonAdmin Reason = "admin"
	// ReasonModeration marks a moderation takedown. Reactions under the
	// tombstoned subtree are purged immediately instead of waiting out a
	// grace period; this is a product-defined policy exception.
	ReasonModeration Reason = "moderation"
)
