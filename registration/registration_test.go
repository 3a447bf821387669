package registration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xpod/core/registry"
	"github.com/xpod/core/store"
)

func TestLoadOrCreateNodeIDPersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	id1, err := LoadOrCreateNodeID(dir)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := LoadOrCreateNodeID(dir)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	b, err := os.ReadFile(filepath.Join(dir, nodeIDFileName))
	require.NoError(t, err)
	require.Equal(t, id1, string(b))
}

func TestLoadOrCreateNodeIDCreatesRootPath(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "path")
	id, err := LoadOrCreateNodeID(dir)
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestDetectPodIPPrefersEnvVar(t *testing.T) {
	t.Setenv("POD_IP", "10.0.0.5")
	require.Equal(t, "10.0.0.5", DetectPodIP())
}

func TestHeartbeaterUpdatesRegistryPeriodically(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	defer db.Close()
	reg := registry.New(db)

	nodeID, _, err := reg.RegisterCenterNode(registry.CapabilityRegistration{NodeID: "n1", InternalIP: "10.0.0.1", InternalPort: 8080})
	require.NoError(t, err)

	hb := NewHeartbeater(reg, nodeID, "10.0.0.1", 8080, 30*time.Millisecond)
	hb.Start()
	defer hb.Stop()

	require.Eventually(t, func() bool {
		n, err := reg.GetNodeConnectivityInfo(nodeID)
		require.NoError(t, err)
		return n != nil && n.Connectivity == registry.ConnReachable && n.LastSeen != nil
	}, time.Second, 10*time.Millisecond)
}
