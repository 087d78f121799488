package recording

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/de-ibh/b3lb/pkg/database"
	"github.com/de-ibh/b3lb/pkg/models"
	"github.com/de-ibh/b3lb/pkg/storage"
	testutil "github.com/de-ibh/b3lb/test/util"
)

func newSweepFixture(t *testing.T) (*Service, *database.Repository, storage.Store, string) {
	t.Helper()
	client, _ := testutil.SetupTestDatabase(t)
	repo := database.NewRepository(client)

	root := t.TempDir()
	store, err := storage.NewLocalStore(storage.LocalConfig{RootDir: root})
	require.NoError(t, err)

	svc := New(repo, store, NoopRenderer{}, Config{OrphanGracePeriod: time.Hour})
	return svc, repo, store, root
}

func insertLiveRecordSet(t *testing.T, ctx context.Context, repo *database.Repository) models.RecordSet {
	t.Helper()
	cgID, err := repo.CreateClusterGroup(ctx, "group-"+uuid.NewString())
	require.NoError(t, err)
	tenantID, err := repo.CreateTenant(ctx, models.Tenant{
		Slug: "TN", ClusterGroupID: cgID, StatsToken: uuid.NewString(),
	})
	require.NoError(t, err)
	secretID, err := repo.CreateSecret(ctx, models.Secret{TenantID: tenantID, Secret: "s", Secret2: "s2"})
	require.NoError(t, err)

	rs := models.RecordSet{
		ID:                uuid.NewString(),
		SecretID:          secretID,
		MeetingExternalID: "ext-" + uuid.NewString(),
		Nonce:             uuid.NewString(),
		Status:            models.RecordSetUploaded,
		FilePath:          models.BlobPath(uuid.NewString(), 2, 3),
		CreatedAt:         time.Now(),
	}
	require.NoError(t, repo.InsertRecordSet(ctx, rs))
	return rs
}

func TestSweepOrphanBlobsDeletesOnlyUnreferencedOldDirectories(t *testing.T) {
	ctx := context.Background()
	svc, repo, store, root := newSweepFixture(t)

	live := insertLiveRecordSet(t, ctx, repo)
	require.NoError(t, store.Put(ctx, live.FilePath+"/raw.tar", strings.NewReader("live"), -1))

	orphanOld := models.BlobPath(uuid.NewString(), 2, 3)
	require.NoError(t, store.Put(ctx, orphanOld+"/raw.tar", strings.NewReader("old-orphan"), -1))
	oldAge := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, filepath.FromSlash(orphanOld), "raw.tar"), oldAge, oldAge))

	orphanFresh := models.BlobPath(uuid.NewString(), 2, 3)
	require.NoError(t, store.Put(ctx, orphanFresh+"/raw.tar", strings.NewReader("fresh-orphan"), -1))

	require.NoError(t, svc.SweepOrphanBlobs(ctx))

	exists, err := store.Exists(ctx, live.FilePath+"/raw.tar")
	require.NoError(t, err)
	require.True(t, exists, "a live RecordSet's blob must survive the sweep")

	exists, err = store.Exists(ctx, orphanFresh+"/raw.tar")
	require.NoError(t, err)
	require.True(t, exists, "an orphan younger than the grace period must survive")

	exists, err = store.Exists(ctx, orphanOld+"/raw.tar")
	require.NoError(t, err)
	require.False(t, exists, "an orphan older than the grace period must be deleted")
}
