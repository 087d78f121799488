package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/de-ibh/b3lb/pkg/database"
	"github.com/de-ibh/b3lb/pkg/models"
	testutil "github.com/de-ibh/b3lb/test/util"
)

func newRepoFixture(t *testing.T) *database.Repository {
	t.Helper()
	client, _ := testutil.SetupTestDatabase(t)
	return database.NewRepository(client)
}

func createTestSecret(t *testing.T, ctx context.Context, repo *database.Repository) (tenantID, secretID string) {
	t.Helper()
	cgID, err := repo.CreateClusterGroup(ctx, "group-"+uuid.NewString())
	require.NoError(t, err)
	tenantID, err = repo.CreateTenant(ctx, models.Tenant{
		Slug: "TN", ClusterGroupID: cgID, StatsToken: uuid.NewString(),
	})
	require.NoError(t, err)
	secretID, err = repo.CreateSecret(ctx, models.Secret{TenantID: tenantID, Secret: "s", Secret2: "s2"})
	require.NoError(t, err)
	return tenantID, secretID
}

func TestAllRecordSetFilePathsReturnsEveryLiveRow(t *testing.T) {
	ctx := context.Background()
	repo := newRepoFixture(t)
	_, secretID := createTestSecret(t, ctx, repo)

	var filePaths []string
	for i := 0; i < 3; i++ {
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
		filePaths = append(filePaths, rs.FilePath)
	}

	got, err := repo.AllRecordSetFilePaths(ctx)
	require.NoError(t, err)

	gotSet := make(map[string]bool, len(got))
	for _, p := range got {
		gotSet[p] = true
	}
	for _, want := range filePaths {
		require.True(t, gotSet[want], "expected %s to be present", want)
	}
}

func TestAllRecordSetFilePathsOmitsDeletedRows(t *testing.T) {
	ctx := context.Background()
	repo := newRepoFixture(t)
	_, secretID := createTestSecret(t, ctx, repo)

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
	require.NoError(t, repo.DeleteRecordSet(ctx, rs.ID))

	got, err := repo.AllRecordSetFilePaths(ctx)
	require.NoError(t, err)
	for _, p := range got {
		require.NotEqual(t, rs.FilePath, p)
	}
}
