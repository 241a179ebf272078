package models

import (
	"time"

	"github.com/google/uuid"
)

// Day is the unit retention windows are configured in.
const Day = 24 * time.Hour

// RetentionPolicy controls the sweeper's behavior for one entity type.
type RetentionPolicy struct {
	// MaxAge is how long an Active record may live before the age-out pass
	// tombstones it.
	MaxAge time.Duration `json:"max_age"`
	// GracePeriod is the mandatory wait between tombstoning and purge
	// eligibility. Zero means immediately eligible.
	GracePeriod time.Duration `json:"grace_period"`
	// BatchSize bounds how many root records one sweep pass processes,
	// which in turn bounds transaction duration and lock scope.
	BatchSize int `json:"batch_size"`
	// EnableArchiving requires a durable archive copy before purge.
	EnableArchiving bool `json:"enable_archiving"`
}

// DefaultPolicies returns the product's standard retention policies.
// Reactions carry a zero grace period: once tombstoned they are eligible
// at the very next sweep, and moderation takedowns purge them in the same
// transaction. That exception is product-defined (cheap to regenerate,
// never archived), not derived from the lifecycle rules.
func DefaultPolicies() map[EntityType]RetentionPolicy {
	return map[EntityType]RetentionPolicy{
		EntityExperience:   {MaxAge: 730 * Day, GracePeriod: 30 * Day, BatchSize: 100, EnableArchiving: true},
		EntityUser:         {MaxAge: 1095 * Day, GracePeriod: 90 * Day, BatchSize: 50, EnableArchiving: true},
		EntityPrompt:       {MaxAge: 730 * Day, GracePeriod: 30 * Day, BatchSize: 200, EnableArchiving: false},
		EntityComment:      {MaxAge: 730 * Day, GracePeriod: 30 * Day, BatchSize: 200, EnableArchiving: false},
		EntityReaction:     {MaxAge: 730 * Day, GracePeriod: 0, BatchSize: 500, EnableArchiving: false},
		EntityPromptRating: {MaxAge: 730 * Day, GracePeriod: 30 * Day, BatchSize: 200, EnableArchiving: false},
	}
}

// CascadeResult reports the outcome of one cascade operation (tombstone,
// restore, or purge) rooted at a single record.
type CascadeResult struct {
	Operation string             `json:"operation"`
	Root      EntityType         `json:"root"`
	RootID    uuid.UUID          `json:"root_id"`
	Affected  map[EntityType]int `json:"affected,omitempty"`
	Archived  map[EntityType]int `json:"archived,omitempty"`
}

// NewCascadeResult creates an empty result for the given operation.
func NewCascadeResult(op string, root EntityType, rootID uuid.UUID) CascadeResult {
	return CascadeResult{
		Operation: op,
		Root:      root,
		RootID:    rootID,
		Affected:  make(map[EntityType]int),
		Archived:  make(map[EntityType]int),
	}
}

// Total returns the number of records affected across all entity types.
func (r CascadeResult) Total() int {
	n := 0
	for _, c := range r.Affected {
		n += c
	}
	return n
}

// TotalArchived returns the number of records archived across all types.
func (r CascadeResult) TotalArchived() int {
	n := 0
	for _, c := range r.Archived {
		n += c
	}
	return n
}

// CleanupResult summarizes one sweep pass. Per-record failures are
// accumulated in Errors and never abort the pass.
type CleanupResult struct {
	Operation        string        `json:"operation"`
	EntityType       EntityType    `json:"entity_type,omitempty"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsDeleted   int           `json:"records_deleted"`
	RecordsArchived  int           `json:"records_archived"`
	Errors           []string      `json:"errors,omitempty"`
	Duration         time.Duration `json:"duration"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Sweep pass operation names.
const (
	OpAgeOut               = "age_out"
	OpGracePurge           = "grace_purge"
	OpOrphanReconciliation = "orphan_reconciliation"
)

// RetentionStats is the read-only per-entity-type aggregate exposed to
// admin tooling.
type RetentionStats struct {
	Total            int64 `json:"total"`
	Active           int64 `json:"active"`
	Tombstoned       int64 `json:"tombstoned"`
	EligibleForPurge int64 `json:"eligible_for_purge"`
}
