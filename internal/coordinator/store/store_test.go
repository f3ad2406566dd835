package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/store"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/store/postgres"
	"github.com/jcmexdev/swifttrack-sagas/internal/coordinator/store/sqlite"
	"github.com/jcmexdev/swifttrack-sagas/internal/order/domain"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newOrder(id, client string) *domain.Order {
	return domain.New(id, domain.NewOrder{
		ClientID: client,
		Priority: domain.PriorityHigh,
		Items:    []domain.Item{{Name: "Box", Quantity: 2, Weight: 1.5}},
		DeliveryAddress: domain.Address{
			Street: "1 Main St", City: "Kandy", PostalCode: "20000",
		},
	}, t0)
}

// repositories returns every implementation that runs without external
// services, plus Postgres when TEST_DATABASE_URL is set.
func repositories(t *testing.T) map[string]store.Repository {
	t.Helper()
	db, err := sqlite.OpenDB(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sq, err := sqlite.New(db)
	require.NoError(t, err)

	repos := map[string]store.Repository{
		"memory": store.NewMemory(),
		"sqlite": sq,
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		ctx := context.Background()
		pg, err := postgres.Open(ctx, url)
		require.NoError(t, err)
		t.Cleanup(pg.Close)
		pool, err := pgxpool.New(ctx, url)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, "TRUNCATE orders")
		pool.Close()
		require.NoError(t, err)
		repos["postgres"] = pg
	}
	return repos
}

func TestRepository_CreateGet(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			o := newOrder("ORD-1", "client-1")
			require.NoError(t, repo.Create(ctx, o))

			got, err := repo.Get(ctx, "ORD-1")
			require.NoError(t, err)
			assert.Equal(t, o.ClientID, got.ClientID)
			assert.Equal(t, domain.StageSubmitted, got.Status)
			assert.Len(t, got.History, 1)
			assert.True(t, o.CreatedAt.Equal(got.CreatedAt))

			err = repo.Create(ctx, o)
			assert.ErrorIs(t, err, store.ErrDuplicate)

			_, err = repo.Get(ctx, "missing")
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

func TestRepository_UpdateChecksVersion(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Create(ctx, newOrder("ORD-1", "client-1")))

			a, err := repo.Get(ctx, "ORD-1")
			require.NoError(t, err)
			b, err := repo.Get(ctx, "ORD-1")
			require.NoError(t, err)

			require.NoError(t, a.Begin(t0))
			require.NoError(t, repo.Update(ctx, a))
			assert.Equal(t, 1, a.Version)

			require.NoError(t, b.Begin(t0))
			err = repo.Update(ctx, b)
			assert.ErrorIs(t, err, store.ErrConcurrencyConflict)

			got, err := repo.Get(ctx, "ORD-1")
			require.NoError(t, err)
			assert.Equal(t, 1, got.Version)
			assert.Equal(t, domain.StageBillingPending, got.Status)

			missing := newOrder("ORD-404", "client-1")
			assert.ErrorIs(t, repo.Update(ctx, missing), domain.ErrNotFound)
		})
	}
}

func TestRepository_Listing(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			pending := newOrder("ORD-1", "client-1")
			require.NoError(t, pending.Begin(t0))
			require.NoError(t, repo.Create(ctx, pending))

			other := newOrder("ORD-2", "client-2")
			other.CreatedAt = t0.Add(time.Minute)
			require.NoError(t, other.Cancel("changed my mind", t0))
			require.NoError(t, repo.Create(ctx, other))

			fresh := newOrder("ORD-3", "client-1")
			fresh.CreatedAt = t0.Add(2 * time.Minute)
			require.NoError(t, repo.Create(ctx, fresh))

			mine, err := repo.ListByClient(ctx, "client-1")
			require.NoError(t, err)
			require.Len(t, mine, 2)
			assert.Equal(t, "ORD-1", mine[0].ID)
			assert.Equal(t, "ORD-3", mine[1].ID)

			active, err := repo.ListActive(ctx)
			require.NoError(t, err)
			require.Len(t, active, 2, "submitted orders still need their saga started")
			assert.Equal(t, "ORD-1", active[0].ID)
			assert.Equal(t, "ORD-3", active[1].ID)

			none, err := repo.ListByClient(ctx, "nobody")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	o := newOrder("ORD-1", "client-1")
	require.NoError(t, repo.Create(ctx, o))

	o.Items[0].Name = "changed"
	got, err := repo.Get(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, "Box", got.Items[0].Name)
}
