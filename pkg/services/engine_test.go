package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waypost-app/waypost-engine/pkg/apperrors"
	"github.com/waypost-app/waypost-engine/pkg/models"
)

// fakeClock drives every component's clock from one settable instant.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// denyingLease refuses the lease for the listed keys.
type denyingLease struct {
	denied map[string]bool
	seen   []string
}

func (l *denyingLease) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.seen = append(l.seen, key)
	if l.denied[key] {
		return nil, false, nil
	}
	return func() {}, true, nil
}

func newTestEngine(f *fixture, lease SweepLease, clock *fakeClock) *retentionEngine {
	sweeper := NewSweeper(f.stores, f.cascade, zap.NewNop())
	reconciler := NewOrphanReconciler(f.graph, f.stores, f.cascade, zap.NewNop())
	if clock != nil {
		sweeper.now = clock.Now
		reconciler.now = clock.Now
	}
	eng := NewRetentionEngine(f.stores, f.cascade, sweeper, reconciler, lease, models.DefaultPolicies(), zap.NewNop()).(*retentionEngine)
	if clock != nil {
		eng.now = clock.Now
	}
	return eng
}

func TestRunSweepFullLifecycle(t *testing.T) {
	f := newFixture()
	clock := &fakeClock{t: time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)}
	eng := newTestEngine(f, NoopSweepLease{}, clock)

	// An experience two years and change old, well past its 730 day
	// retention window, under a user that is still inside its own.
	tr := f.seedTree(clock.t.Add(-800 * models.Day))

	results, err := eng.RunSweep(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, len(models.AllEntityTypes)*2+1)

	// First sweep tombstones the experience subtree but purges nothing.
	require.NotNil(t, f.tombstonedAt(models.EntityExperience, tr.exp))
	require.NotNil(t, f.tombstonedAt(models.EntityPromptRating, tr.rating))
	assert.Nil(t, f.tombstonedAt(models.EntityUser, tr.user))
	assert.True(t, f.exists(models.EntityExperience, tr.exp))

	// A second sweep inside the grace window keeps the subtree, except
	// the reaction whose zero grace period has trivially elapsed.
	clock.advance(10 * models.Day)
	_, err = eng.RunSweep(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, f.exists(models.EntityExperience, tr.exp))
	assert.True(t, f.exists(models.EntityComment, tr.comment))
	assert.False(t, f.exists(models.EntityReaction, tr.reaction))

	// Past the 30 day grace window the subtree is archived and purged.
	clock.advance(21 * models.Day)
	results, err = eng.RunSweep(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, f.exists(models.EntityExperience, tr.exp))
	assert.False(t, f.exists(models.EntityPrompt, tr.prompt))
	assert.False(t, f.exists(models.EntityPromptRating, tr.rating))
	assert.True(t, f.exists(models.EntityUser, tr.user))

	var deleted, archived int
	for _, r := range results {
		deleted += r.RecordsDeleted
		archived += r.RecordsArchived
	}
	assert.Equal(t, 4, deleted)
	// Everything left in the subtree is archived; reactions never are.
	assert.Equal(t, 4, archived)
	assert.Equal(t, 1, f.sink.total(models.EntityExperience))
	assert.Zero(t, f.sink.total(models.EntityReaction))
}

func TestRunSweepSkipsTypesWithHeldLease(t *testing.T) {
	f := newFixture()
	lease := &denyingLease{denied: map[string]bool{"retention:sweep:comment": true}}
	eng := newTestEngine(f, lease, nil)

	results, err := eng.RunSweep(context.Background(), nil)
	require.NoError(t, err)

	// One entity type skipped: two passes fewer, reconciler still runs.
	assert.Len(t, results, (len(models.AllEntityTypes)-1)*2+1)
	assert.Contains(t, lease.seen, "retention:sweep:comment")
	for _, r := range results {
		assert.NotEqual(t, models.EntityComment, r.EntityType)
	}
}

func TestRunSweepStopsOnCancelledContext(t *testing.T) {
	f := newFixture()
	eng := newTestEngine(f, NoopSweepLease{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.RunSweep(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTombstoneModerationPurgesReactions(t *testing.T) {
	f := newFixture()
	eng := newTestEngine(f, NoopSweepLease{}, nil)
	tr := f.seedTree(time.Now().Add(-models.Day))

	res, err := eng.Tombstone(context.Background(), models.EntityExperience, tr.exp, models.ReasonModeration)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Total())
	assert.False(t, f.exists(models.EntityReaction, tr.reaction))
	assert.True(t, f.exists(models.EntityComment, tr.comment))
}

func TestTombstoneAdminKeepsReactions(t *testing.T) {
	f := newFixture()
	eng := newTestEngine(f, NoopSweepLease{}, nil)
	tr := f.seedTree(time.Now().Add(-models.Day))

	_, err := eng.Tombstone(context.Background(), models.EntityExperience, tr.exp, models.ReasonAdmin)
	require.NoError(t, err)

	assert.True(t, f.exists(models.EntityReaction, tr.reaction))
	assert.NotNil(t, f.tombstonedAt(models.EntityReaction, tr.reaction))
}

func TestTombstoneRejectsUnknownEntityType(t *testing.T) {
	f := newFixture()
	eng := newTestEngine(f, NoopSweepLease{}, nil)

	_, err := eng.Tombstone(context.Background(), models.EntityType("banana"), uuid.New(), models.ReasonAdmin)
	require.ErrorIs(t, err, apperrors.ErrConstraintViolation)
}

func TestRestoreRejectsUnknownEntityType(t *testing.T) {
	f := newFixture()
	eng := newTestEngine(f, NoopSweepLease{}, nil)

	_, err := eng.Restore(context.Background(), models.EntityType("banana"), uuid.New())
	require.ErrorIs(t, err, apperrors.ErrConstraintViolation)
}

func TestGetRetentionStats(t *testing.T) {
	f := newFixture()
	eng := newTestEngine(f, NoopSweepLease{}, nil)

	f.seedTree(time.Now().Add(-10 * models.Day))
	dead := f.seedTree(time.Now().Add(-400 * models.Day))
	_, err := f.cascade.Tombstone(context.Background(), models.EntityUser, dead.user, time.Now().Add(-100*models.Day))
	require.NoError(t, err)

	stats, err := eng.GetRetentionStats(context.Background())
	require.NoError(t, err)

	users := stats[models.EntityUser]
	assert.Equal(t, int64(2), users.Total)
	assert.Equal(t, int64(1), users.Active)
	assert.Equal(t, int64(1), users.Tombstoned)
	// Tombstoned 100 days ago with a 90 day grace period.
	assert.Equal(t, int64(1), users.EligibleForPurge)

	comments := stats[models.EntityComment]
	assert.Equal(t, int64(2), comments.Total)
	assert.Equal(t, int64(1), comments.Tombstoned)
}

func TestGetPoliciesReturnsCopy(t *testing.T) {
	f := newFixture()
	eng := newTestEngine(f, NoopSweepLease{}, nil)

	p := eng.GetPolicies()
	p[models.EntityUser] = models.RetentionPolicy{}

	again := eng.GetPolicies()
	assert.Equal(t, models.DefaultPolicies()[models.EntityUser], again[models.EntityUser])
}
