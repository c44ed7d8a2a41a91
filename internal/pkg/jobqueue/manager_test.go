package jobqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/Bookfox/app/models"
	"github.com/ManuelReschke/Bookfox/app/repository/memory"
	"github.com/ManuelReschke/Bookfox/internal/pkg/entitlements"
	"github.com/ManuelReschke/Bookfox/internal/pkg/ingest"
	"github.com/ManuelReschke/Bookfox/internal/pkg/storage"
)

func TestManager_StartStopRunsTasks(t *testing.T) {
	var runs atomic.Int32
	manager := NewManager(nil, Task{
		Name:     "tick",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	assert.False(t, manager.IsRunning())
	manager.Start()
	assert.True(t, manager.IsRunning())
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)

	manager.Stop()
	assert.False(t, manager.IsRunning())
	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after Stop")

	// restartable
	manager.Start()
	manager.Stop()
}

func TestManager_RunAtStart(t *testing.T) {
	var runs atomic.Int32
	manager := NewManager(nil, Task{
		Name:       "reconcile",
		Interval:   time.Hour,
		RunAtStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	manager.Start()
	defer manager.Stop()
	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
}

func TestManager_StopWithoutStart(t *testing.T) {
	manager := NewManager(nil)
	manager.Stop()
	assert.False(t, manager.IsRunning())
	assert.Nil(t, manager.GetQueue())
}

func TestManager_RunTaskOnce(t *testing.T) {
	called := false
	manager := NewManager(nil, Task{Name: "reconcile", Interval: time.Hour, Run: func(context.Context) error {
		called = true
		return nil
	}})

	require.NoError(t, manager.RunTaskOnce(context.Background(), "reconcile"))
	assert.True(t, called)
	assert.Error(t, manager.RunTaskOnce(context.Background(), "tiering"))
}

type paidRefs struct{}

func (paidRefs) IsConfirmed(context.Context, string) (bool, error) { return true, nil }

func TestReconcileTask(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	repos := mem.Repositories()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ents := entitlements.NewStore(repos, paidRefs{}).WithClock(func() time.Time { return now })
	plan := &models.RentalPlan{BookID: 8, Name: "week", DurationDays: 7, IsActive: true}
	require.NoError(t, repos.Plan.CreateRentalPlan(ctx, plan))
	rental, err := ents.CreateRental(ctx, "u1", 8, plan.ID, "pay-1")
	require.NoError(t, err)

	limits := ingest.DefaultLimits()
	limits.StaleAfter = 30 * time.Minute
	in := ingest.NewIngestor(repos.Asset, storage.NewMemoryStore(), limits)
	stale := &models.EbookAsset{BookID: 8, Kind: models.AssetKindSingleFile}
	require.NoError(t, repos.Asset.Create(ctx, stale))
	repos.Asset.(*memory.Assets).Backdate(stale.ID, time.Hour)

	now = now.Add(8 * 24 * time.Hour)
	manager := NewManager(nil, ReconcileTask(time.Minute, ents, in))
	require.NoError(t, manager.RunTaskOnce(ctx, "reconcile"))

	stored, err := repos.Rental.GetByID(ctx, rental.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RentalStatusExpired, stored.Status)

	asset, err := repos.Asset.GetByUUID(ctx, stale.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.AssetStatusFailed, asset.Status)
}
