package migration

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xpod/core/accessor"
	"github.com/xpod/core/cmn"
	"github.com/xpod/core/directory"
	"github.com/xpod/core/registry"
	"github.com/xpod/core/store"
)

func newTestEngine(t *testing.T, acc *accessor.Accessor) (*Engine, *directory.Directory, *registry.Registry) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	dir := directory.New(db)
	reg := registry.New(db)
	_, _, err = reg.RegisterCenterNode(registry.CapabilityRegistration{NodeID: "B", InternalIP: "10.0.0.2", InternalPort: 9})
	require.NoError(t, err)
	return New(dir, reg, acc, "A"), dir, reg
}

// §8 property 4 and S4: migrating twice succeeds once, then fails
// AlreadyOnTarget.
func TestMigrateIdempotence(t *testing.T) {
	e, dir, _ := newTestEngine(t, nil)
	require.NoError(t, dir.CreatePod(&directory.Pod{PodID: "p", BaseURL: "https://h/p/", NodeID: "A"}))

	res, err := e.Migrate("p", "B")
	require.NoError(t, err)
	require.Equal(t, "A", res.SourceNodeID)
	require.Equal(t, "B", res.TargetNodeID)

	_, err = e.Migrate("p", "B")
	require.Error(t, err)
	require.Equal(t, cmn.KindAlreadyOnTarget, cmn.AsError(err).Kind)
}

func TestMigrateUnknownPodNotFound(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	_, err := e.Migrate("ghost", "B")
	require.Error(t, err)
}

func TestMigrateRejectsUnknownTargetNode(t *testing.T) {
	e, dir, _ := newTestEngine(t, nil)
	require.NoError(t, dir.CreatePod(&directory.Pod{PodID: "p", BaseURL: "https://h/p/", NodeID: "A"}))
	_, err := e.Migrate("p", "ghost-node")
	require.Error(t, err)
}

func TestMigrateStagedRunsFullPipeline(t *testing.T) {
	primary := accessor.NewMemBackend("primary")
	target := accessor.NewMemBackend("eu-bucket")
	require.NoError(t, primary.Put(context.Background(), "https://h/p/doc", strings.NewReader("hello"), 5))

	acc, err := accessor.New(accessor.Config{
		PrimaryBucket: "primary",
		LocalCacheDir: t.TempDir(),
		CacheMaxBytes: 10_000,
		Region:        "us",
		RegionBuckets: map[string]string{"us": "primary", "eu": "eu-bucket"},
	}, accessor.BucketSet{"primary": primary, "eu-bucket": target})
	require.NoError(t, err)

	e, dir, _ := newTestEngine(t, acc)
	require.NoError(t, dir.CreatePod(&directory.Pod{PodID: "p", BaseURL: "https://h/p/", NodeID: "A"}))

	var progresses []int
	res, err := e.MigrateStaged(context.Background(), "p", "B", "eu", func(p int) {
		progresses = append(progresses, p)
	})
	require.NoError(t, err)
	require.Equal(t, "B", res.TargetNodeID)
	require.NotEmpty(t, progresses)
	require.Equal(t, 100, progresses[len(progresses)-1])

	status, target2, progress, err := dir.GetMigrationStatus("p")
	require.NoError(t, err)
	require.Equal(t, directory.MigrationDone, status)
	require.Equal(t, "B", target2)
	require.Equal(t, 100, progress)
}

func TestConcurrentMigrationRejected(t *testing.T) {
	e, dir, _ := newTestEngine(t, nil)
	require.NoError(t, dir.CreatePod(&directory.Pod{PodID: "p", BaseURL: "https://h/p/", NodeID: "A"}))

	job, err := e.claim("p")
	require.NoError(t, err)
	defer e.release("p")
	_ = job

	_, err = e.Migrate("p", "B")
	require.Error(t, err)
}
