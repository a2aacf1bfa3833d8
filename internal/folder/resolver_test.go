package folder

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/adapter/memory"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/configstore"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/lock"
	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

const defaultRoot = "JJA eTearsheets"

var acme = Target{Client: "Acme", Campaign: "Spring24", Publication: "DailyPost"}

func newStore() *configstore.Store {
	return configstore.NewStore(configstore.NewMemoryBackend(), "config/portal", "admin-state/state")
}

func newResolver(store *configstore.Store) *Resolver {
	return NewResolver(store, lock.NewMemoryLocker(), defaultRoot, time.Second)
}

func setParentURL(t *testing.T, store *configstore.Store, url string) {
	t.Helper()
	_, _, err := store.UpdateConfig(context.Background(), func(c *model.PortalConfig) error {
		c.Drive().ParentFolderURL = url
		return nil
	})
	require.NoError(t, err)
}

func TestResolve_CreatesChainUnderDefaultRoot(t *testing.T) {
	d := memory.NewDrive()
	store := newStore()
	r := newResolver(store)
	ctx := context.Background()

	p, err := r.Resolve(ctx, d, acme)
	require.NoError(t, err)

	roots := d.Children(adapter.RootID)
	require.Len(t, roots, 1)
	assert.Equal(t, defaultRoot, roots[0].Name)
	assert.Equal(t, roots[0].ID, p.Root)

	for parent, want := range map[string]string{p.Root: "Acme", p.Client: "Spring24", p.Campaign: "DailyPost"} {
		kids := d.Children(parent)
		require.Len(t, kids, 1)
		assert.Equal(t, want, kids[0].Name)
	}

	cfg, _, err := store.ReadConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.Root, cfg.DriveSettings.RootFolderID)
	assert.Equal(t, defaultRoot, cfg.DriveSettings.RootFolderName)
	assert.True(t, cfg.DriveSettings.IsConfigured)
}

func TestResolve_Idempotent(t *testing.T) {
	d := memory.NewDrive()
	r := newResolver(newStore())
	ctx := context.Background()

	first, err := r.Resolve(ctx, d, acme)
	require.NoError(t, err)
	creates := d.Calls(memory.OpCreateFolder)

	second, err := r.Resolve(ctx, d, acme)
	require.NoError(t, err)
	assert.Equal(t, first.Leaf(), second.Leaf())
	assert.Equal(t, creates, d.Calls(memory.OpCreateFolder), "second call must not create folders")
}

func TestResolve_ReusesExistingFolders(t *testing.T) {
	d := memory.NewDrive()
	ctx := context.Background()
	root, _ := d.CreateFolder(ctx, defaultRoot, adapter.RootID)
	client, _ := d.CreateFolder(ctx, "Acme", root.ID)

	p, err := newResolver(newStore()).Resolve(ctx, d, acme)
	require.NoError(t, err)
	assert.Equal(t, root.ID, p.Root)
	assert.Equal(t, client.ID, p.Client)
	assert.Equal(t, 4, d.Calls(memory.OpCreateFolder), "only campaign and publication are new")
}

func TestResolve_UsesRootFolderNameSetting(t *testing.T) {
	d := memory.NewDrive()
	store := newStore()
	_, _, err := store.UpdateConfig(context.Background(), func(c *model.PortalConfig) error {
		c.Drive().RootFolderName = "Tearsheets 2024"
		return nil
	})
	require.NoError(t, err)

	p, err := newResolver(store).Resolve(context.Background(), d, acme)
	require.NoError(t, err)
	root, err := d.GetFolder(context.Background(), p.Root)
	require.NoError(t, err)
	assert.Equal(t, "Tearsheets 2024", root.Name)
}

func TestResolve_CustomParentFolder(t *testing.T) {
	d := memory.NewDrive()
	ctx := context.Background()
	custom, _ := d.CreateFolder(ctx, "Shared Ads", adapter.RootID)
	store := newStore()
	setParentURL(t, store, "https://drive.google.com/drive/folders/"+custom.ID+"?usp=sharing")
	r := newResolver(store)

	p, err := r.Resolve(ctx, d, acme)
	require.NoError(t, err)
	assert.Equal(t, custom.ID, p.Root)

	cfg, _, _ := store.ReadConfig(ctx)
	assert.Equal(t, custom.ID, cfg.DriveSettings.RootFolderID)
	assert.Equal(t, "Shared Ads", cfg.DriveSettings.RootFolderName)

	// Cached id matches the url, so no further metadata fetch.
	gets := d.Calls(memory.OpGetFolder)
	_, err = r.Resolve(ctx, d, acme)
	require.NoError(t, err)
	assert.Equal(t, gets, d.Calls(memory.OpGetFolder))
}

func TestResolve_InaccessibleParentFallsBackToDefault(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"forbidden", http.StatusForbidden},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d := memory.NewDrive()
			ctx := context.Background()
			store := newStore()
			setParentURL(t, store, "https://drive.google.com/drive/folders/1AbCdEfGhIjKlMnOp")
			d.FailNext(memory.OpGetFolder, &adapter.UpstreamError{Op: "get folder", StatusCode: tc.status})

			p, err := newResolver(store).Resolve(ctx, d, acme)
			require.NoError(t, err)

			roots := d.Children(adapter.RootID)
			require.Len(t, roots, 1)
			assert.Equal(t, defaultRoot, roots[0].Name)
			assert.Equal(t, roots[0].ID, p.Root)
		})
	}
}

func TestResolve_InaccessibleParentPrefersCachedRoot(t *testing.T) {
	d := memory.NewDrive()
	ctx := context.Background()
	cached, _ := d.CreateFolder(ctx, "Previously Used", adapter.RootID)
	store := newStore()
	_, _, err := store.UpdateConfig(ctx, func(c *model.PortalConfig) error {
		ds := c.Drive()
		ds.ParentFolderURL = "https://drive.google.com/drive/folders/1ForbiddenFolderId"
		ds.RootFolderID = cached.ID
		return nil
	})
	require.NoError(t, err)
	d.Forbid("1ForbiddenFolderId")

	p, err := newResolver(store).Resolve(ctx, d, acme)
	require.NoError(t, err)
	assert.Equal(t, cached.ID, p.Root)
}

func TestResolve_ParentIsNotAFolder(t *testing.T) {
	d := memory.NewDrive()
	ctx := context.Background()
	file, _ := d.CreateFile(ctx, adapter.FileInput{Name: "doc.pdf", MIMEType: "application/pdf", ParentID: adapter.RootID, Content: bytes.NewReader([]byte("x"))})
	store := newStore()
	setParentURL(t, store, "https://drive.google.com/drive/folders/"+file.ID)

	_, err := newResolver(store).Resolve(ctx, d, acme)
	assert.ErrorIs(t, err, ErrNotAFolder)
}

func TestResolve_InvalidParentURL(t *testing.T) {
	d := memory.NewDrive()
	store := newStore()
	setParentURL(t, store, "https://example.com/not-a-drive-link")

	_, err := newResolver(store).Resolve(context.Background(), d, acme)
	assert.ErrorIs(t, err, ErrInvalidFolderURL)
	assert.Zero(t, d.TotalCalls())
}

func TestResolve_MissingField(t *testing.T) {
	d := memory.NewDrive()
	_, err := newResolver(newStore()).Resolve(context.Background(), d, Target{Client: "Acme", Campaign: " ", Publication: "DailyPost"})
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Zero(t, d.TotalCalls())
}

func TestResolve_LevelErrorPropagates(t *testing.T) {
	d := memory.NewDrive()
	r := newResolver(newStore())
	ctx := context.Background()
	_, err := r.Root(ctx, d)
	require.NoError(t, err)

	d.FailNext(memory.OpCreateFolder, &adapter.UpstreamError{Op: "create folder", StatusCode: http.StatusInternalServerError})
	_, err = r.Resolve(ctx, d, acme)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, adapter.UpstreamStatus(err))
}

func TestResolve_ConfigErrorIsFatal(t *testing.T) {
	d := memory.NewDrive()
	store := newStore()
	setParentURL(t, store, "https://drive.google.com/drive/folders/1AbCdEfGhIjKlMnOp")
	d.FailNext(memory.OpGetFolder, adapter.ErrMissingImpersonation)

	_, err := newResolver(store).Resolve(context.Background(), d, acme)
	assert.True(t, errors.Is(err, adapter.ErrMissingImpersonation))
}

func TestResolve_ConcurrentCallersShareFolders(t *testing.T) {
	d := memory.NewDrive()
	store := newStore()
	locker := lock.NewMemoryLocker()
	// Two resolvers model two separate processes sharing the lock table.
	resolvers := []*Resolver{
		NewResolver(store, locker, defaultRoot, time.Second),
		NewResolver(store, locker, defaultRoot, time.Second),
	}

	var wg sync.WaitGroup
	leaves := make([]string, 20)
	errs := make([]error, 20)
	for i := range leaves {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := resolvers[i%2].Resolve(context.Background(), d, acme)
			errs[i] = err
			if p != nil {
				leaves[i] = p.Leaf()
			}
		}(i)
	}
	wg.Wait()

	for i := range leaves {
		require.NoError(t, errs[i])
		assert.Equal(t, leaves[0], leaves[i])
	}
	assert.Len(t, d.Children(adapter.RootID), 1)
}

func TestFind_DoesNotCreate(t *testing.T) {
	d := memory.NewDrive()
	store := newStore()
	r := newResolver(store)
	ctx := context.Background()

	_, err := r.Find(ctx, d, acme)
	assert.ErrorIs(t, err, adapter.ErrNotFound)
	assert.Zero(t, d.Calls(memory.OpCreateFolder))
	_, rev, err := store.ReadConfig(ctx)
	require.NoError(t, err)
	assert.Zero(t, rev)

	want, err := r.Resolve(ctx, d, acme)
	require.NoError(t, err)
	got, err := r.Find(ctx, d, acme)
	require.NoError(t, err)
	assert.Equal(t, want.Leaf(), got.Leaf())
	assert.Equal(t, 4, d.Calls(memory.OpCreateFolder))
}

func TestFind_InaccessibleParentLooksUpDefaultRoot(t *testing.T) {
	d := memory.NewDrive()
	ctx := context.Background()
	store := newStore()
	setParentURL(t, store, "https://drive.google.com/drive/folders/1ForbiddenFolderId")
	d.Forbid("1ForbiddenFolderId")
	_, before, _ := store.ReadConfig(ctx)

	_, err := newResolver(store).Find(ctx, d, acme)
	assert.ErrorIs(t, err, adapter.ErrNotFound)
	assert.Zero(t, d.Calls(memory.OpCreateFolder))
	_, after, _ := store.ReadConfig(ctx)
	assert.Equal(t, before, after)
}

func TestResolve_CachedParentLosesAccess(t *testing.T) {
	d := memory.NewDrive()
	ctx := context.Background()
	custom, _ := d.CreateFolder(ctx, "Shared Ads", adapter.RootID)
	store := newStore()
	setParentURL(t, store, "https://drive.google.com/drive/folders/"+custom.ID)
	r := newResolver(store)

	p, err := r.Resolve(ctx, d, acme)
	require.NoError(t, err)
	require.Equal(t, custom.ID, p.Root)

	d.Forbid(custom.ID)
	p, err = r.Resolve(ctx, d, Target{Client: "NewCo", Campaign: "Launch", Publication: "DailyPost"})
	require.NoError(t, err)

	root, err := d.FindFolder(ctx, defaultRoot, adapter.RootID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, p.Root)
	cfg, _, _ := store.ReadConfig(ctx)
	assert.Equal(t, root.ID, cfg.DriveSettings.RootFolderID)

	// The fallback root is now cached and reused.
	p, err = r.Resolve(ctx, d, acme)
	require.NoError(t, err)
	assert.Equal(t, root.ID, p.Root)
}

func TestResolve_CachedDefaultRootTrashed(t *testing.T) {
	d := memory.NewDrive()
	ctx := context.Background()
	store := newStore()
	r := newResolver(store)

	first, err := r.Resolve(ctx, d, acme)
	require.NoError(t, err)
	d.Trash(first.Root)

	second, err := r.Resolve(ctx, d, acme)
	require.NoError(t, err)
	assert.NotEqual(t, first.Root, second.Root)
	cfg, _, _ := store.ReadConfig(ctx)
	assert.Equal(t, second.Root, cfg.DriveSettings.RootFolderID)
}

// gatedDrive holds FindFolder until release is closed.
type gatedDrive struct {
	adapter.Drive
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedDrive) FindFolder(ctx context.Context, name, parentID string) (*adapter.FileMetadata, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Drive.FindFolder(ctx, name, parentID)
}

func TestFindOrCreate_CancelledCallerDoesNotFailOthers(t *testing.T) {
	d := memory.NewDrive()
	g := &gatedDrive{Drive: d, entered: make(chan struct{}), release: make(chan struct{})}
	r := newResolver(newStore())

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.findOrCreate(first, g, "Acme", adapter.RootID)
		firstErr <- err
	}()
	<-g.entered
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	time.AfterFunc(50*time.Millisecond, func() { close(g.release) })
	id, err := r.findOrCreate(context.Background(), g, "Acme", adapter.RootID)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Len(t, d.Children(adapter.RootID), 1)
}
