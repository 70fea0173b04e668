package audit_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	engine "github.com/eventengine/eventengine"
	"github.com/eventengine/eventengine/audit"
)

func TestAppendAndLoadAllPreservesIdentity(t *testing.T) {
	dir := t.TempDir()
	log, err := audit.Open(audit.Options{Dir: dir, BatchSize: 10})
	require.NoError(t, err)
	defer log.Close()

	ev := audit.New("acme", audit.ActionIngest, audit.Actor{Kind: audit.ActorUser, ID: "u1"}, audit.OutcomeSuccess)
	ev.ResourceType = "entity"
	ev.ResourceID = "order-1"
	ev.Metadata = engine.Metadata{"request_id": "r-1"}

	require.NoError(t, log.Append(ev))
	require.NoError(t, log.Flush())

	all, err := log.LoadAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, ev.ID, all[0].ID)
	require.Equal(t, ev.TenantID, all[0].TenantID)
	require.Equal(t, ev.Action, all[0].Action)
	require.Equal(t, ev.Outcome, all[0].Outcome)
	require.Equal(t, ev.ResourceID, all[0].ResourceID)
}

func TestRecordSilentlyNeverPanics(t *testing.T) {
	dir := t.TempDir()
	log, err := audit.Open(audit.Options{Dir: dir, BatchSize: 10})
	require.NoError(t, err)
	defer log.Close()

	ev := audit.New("acme", audit.ActionQuery, audit.System(), audit.OutcomeFailure)
	require.NotPanics(t, func() { log.RecordSilently(ev) })
}

func TestReconstructPreservesID(t *testing.T) {
	ev := audit.New("acme", audit.ActionCompaction, audit.System(), audit.OutcomeSuccess)
	rebuilt := audit.Reconstruct(ev.ID, ev.TenantID, ev.Timestamp, ev.Action, ev.Actor, ev.Outcome, "", "", "", "", "", "", nil)
	require.Equal(t, ev.ID, rebuilt.ID)
}
