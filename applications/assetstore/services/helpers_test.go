package services

import (
	"context"
	"errors"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/assetstore/applications/assetstore/adapters/inmemory"
	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
)

var (
	productP100 = domain.Owner{TenantCode: "T1", Category: domain.CategoryProductImage, OwnerID: "P100"}

	errInjected = errors.New("injected fault")
)

// body counts how often it is closed.
type body struct {
	io.Reader
	mu     sync.Mutex
	closes int
}

func newBody(content string) *body {
	return &body{Reader: strings.NewReader(content)}
}

func (b *body) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

func (b *body) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// faultyBackend fails selected calls of the wrapped backend.
type faultyBackend struct {
	interfaces.StorageBackend

	mu          sync.Mutex
	puts        int
	failPutNums map[int]bool
	failDelete  bool
	failList    bool
}

func (f *faultyBackend) Put(ctx context.Context, key, contentType string, b io.Reader) (int64, error) {
	f.mu.Lock()
	f.puts++
	fail := f.failPutNums[f.puts]
	f.mu.Unlock()

	if fail {
		return 0, domain.NewStorageError("put", key, domain.ErrStorageUnavailable, errInjected)
	}
	return f.StorageBackend.Put(ctx, key, contentType, b)
}

func (f *faultyBackend) Delete(ctx context.Context, key string) error {
	if f.failDelete {
		return errInjected
	}
	return f.StorageBackend.Delete(ctx, key)
}

func (f *faultyBackend) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	if f.failList {
		return func(yield func(string, error) bool) {
			yield("", errInjected)
		}
	}
	return f.StorageBackend.List(ctx, prefix)
}

type fixture struct {
	backend    *faultyBackend
	repo       interfaces.AssetRepository
	manager    *Manager
	reconciler *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend := &faultyBackend{
		StorageBackend: inmemory.NewStorage(0, log.NewNopLogger()),
		failPutNums:    map[int]bool{},
	}
	repo := inmemory.NewAssetRepository()
	manager := NewManager(backend, log.NewNopLogger())

	return &fixture{
		backend:    backend,
		repo:       repo,
		manager:    manager,
		reconciler: NewReconciler(manager, repo, log.NewNopLogger()),
	}
}

func (f *fixture) read(t *testing.T, fileName string, variant domain.SizeVariant) string {
	t.Helper()

	rc, err := f.manager.GetAsset(context.Background(), productP100.Asset(fileName, variant))
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) names(t *testing.T) []string {
	t.Helper()

	var names []string
	for asset, err := range f.manager.ListAssets(context.Background(), productP100) {
		require.NoError(t, err)
		names = append(names, asset.FileName)
	}
	sort.Strings(names)
	return names
}

func (f *fixture) seed(t *testing.T, fileNames ...string) {
	t.Helper()

	images := make([]domain.DesiredImage, 0, len(fileNames))
	for _, name := range fileNames {
		images = append(images, domain.DesiredImage{FileName: name, Body: newBody("old " + name)})
	}

	result, err := f.reconciler.Reconcile(context.Background(), domain.SaveRequest{Owner: productP100, Images: images})
	require.NoError(t, err)
	require.False(t, result.Partial())
}
