package tenant_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	engine "github.com/eventengine/eventengine"
	"github.com/eventengine/eventengine/tenant"
)

func TestAdmitIngestQuotaEnforced(t *testing.T) {
	tn := tenant.New("acme", "Acme Corp", tenant.Quotas{EventsPerDay: 2})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, tn.AdmitIngest(now))
	tn.RecordIngest(now, 10)
	require.NoError(t, tn.AdmitIngest(now))
	tn.RecordIngest(now, 10)

	err := tn.AdmitIngest(now)
	require.Error(t, err)
	require.ErrorIs(t, err, engine.ErrQuotaExceeded)
	var qe *engine.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	require.Equal(t, "events_per_day", qe.Quota)
}

func TestDailyWindowResets(t *testing.T) {
	tn := tenant.New("acme", "Acme Corp", tenant.Quotas{EventsPerDay: 1})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, tn.AdmitIngest(now))
	tn.RecordIngest(now, 1)
	require.Error(t, tn.AdmitIngest(now))

	later := now.Add(25 * time.Hour)
	require.NoError(t, tn.AdmitIngest(later))
}

func TestInactiveTenantRejected(t *testing.T) {
	tn := tenant.New("acme", "Acme Corp", tenant.Quotas{})
	now := time.Now().UTC()
	tn.Deactivate(now)

	err := tn.AdmitIngest(now)
	require.ErrorIs(t, err, engine.ErrTenantInactive)

	err = tn.AdmitQuery(now)
	require.ErrorIs(t, err, engine.ErrTenantInactive)
}

func TestUnlimitedQuotaNeverBlocks(t *testing.T) {
	tn := tenant.New("acme", "Acme Corp", tenant.Quotas{})
	now := time.Now().UTC()
	for i := 0; i < 10000; i++ {
		require.NoError(t, tn.AdmitIngest(now))
		tn.RecordIngest(now, 1<<20)
	}
}

func TestRegistryCreateGetList(t *testing.T) {
	ctx := context.Background()
	reg := tenant.NewRegistry()
	tn := tenant.New("acme", "Acme Corp", tenant.Quotas{})

	require.NoError(t, reg.Create(ctx, tn))
	require.Error(t, reg.Create(ctx, tn))

	got, err := reg.Get(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, tn, got)

	_, err = reg.Get(ctx, "missing")
	require.Error(t, err)

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 1, reg.Count(ctx))
}
