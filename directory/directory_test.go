package directory

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xpod/core/store"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

// S1 — longest-prefix routing.
func TestFindByResourceIdentifierLongestPrefix(t *testing.T) {
	d := newTestDirectory(t)
	require.NoError(t, d.CreatePod(&Pod{PodID: "B1", BaseURL: "https://h/alice/", NodeID: "A"}))
	require.NoError(t, d.CreatePod(&Pod{PodID: "B2", BaseURL: "https://h/alice/work/", NodeID: "B"}))

	pod, err := d.FindByResourceIdentifier("https://h/alice/work/notes.md")
	require.NoError(t, err)
	require.NotNil(t, pod)
	require.Equal(t, "B2", pod.PodID)
	require.Equal(t, "B", pod.NodeID)
}

// S4 — the migration commit: SetNodeId flips the pod's owner in one write.
func TestSetNodeIdIsSingleAtomicWrite(t *testing.T) {
	d := newTestDirectory(t)
	require.NoError(t, d.CreatePod(&Pod{PodID: "p", BaseURL: "https://h/p/", NodeID: "A"}))

	require.NoError(t, d.SetNodeId("p", "B"))
	pod, err := d.FindByID("p")
	require.NoError(t, err)
	require.Equal(t, "B", pod.NodeID)
}

func TestSetNodeIdUnknownPodNotFound(t *testing.T) {
	d := newTestDirectory(t)
	err := d.SetNodeId("ghost", "B")
	require.Error(t, err)
}

func TestMigrationStatusRoundTrip(t *testing.T) {
	d := newTestDirectory(t)
	require.NoError(t, d.CreatePod(&Pod{PodID: "p", BaseURL: "https://h/p/", NodeID: "A"}))
	require.NoError(t, d.SetMigrationStatus("p", MigrationSyncing, "B", 10))

	status, target, progress, err := d.GetMigrationStatus("p")
	require.NoError(t, err)
	require.Equal(t, MigrationSyncing, status)
	require.Equal(t, "B", target)
	require.Equal(t, 10, progress)
}
