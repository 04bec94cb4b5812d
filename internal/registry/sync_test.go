package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adregister/internal/config"
	"adregister/internal/sheet/sheettest"
	"adregister/internal/storage"
)

type fakeDownloader struct {
	blob  []byte
	calls int
}

func (f *fakeDownloader) Download(context.Context) ([]byte, string, error) {
	f.calls++
	return f.blob, "register.xlsx", nil
}

func newTestSync(t *testing.T, blob []byte) (*SyncService, *fakeDownloader, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg, _ := config.Load()
	cfg.MatchTypeCert = ""
	cfg.IgnoreInactive = false
	cfg.RegisterRefreshHours = 24

	svc := NewSyncService(db, cfg)
	fake := &fakeDownloader{blob: blob}
	svc.client = fake
	return svc, fake, db
}

func registerBlob(t *testing.T) []byte {
	return sheettest.Register(t,
		[]any{"GFA AD 0017", 2, 36055.0, "Standard Cirrus", "GLIDER", "Bulkheads", "Active"},
		[]any{"CASA AD/GEN/87", 1, 43007.0, "General AD-AWAs", "GENERAL", "Maintenance of aircraft", "Superseded"},
	)
}

func TestSyncImportsOnceUntilContentChanges(t *testing.T) {
	svc, _, db := newTestSync(t, registerBlob(t))

	first, err := svc.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, first.Unchanged)
	assert.Equal(t, 2, first.Directives)
	require.NotEmpty(t, first.RunID)

	second, err := svc.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, second.Unchanged)
	assert.Empty(t, second.RunID)

	forced, err := svc.Sync(context.Background(), true)
	require.NoError(t, err)
	assert.False(t, forced.Unchanged)
	assert.NotEqual(t, first.RunID, forced.RunID)

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestSyncIfStaleSkipsFreshRegister(t *testing.T) {
	svc, fake, _ := newTestSync(t, registerBlob(t))

	res, err := svc.SyncIfStale(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, fake.calls)

	res, err = svc.SyncIfStale(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, fake.calls)
}
