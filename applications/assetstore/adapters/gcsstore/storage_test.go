package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/fsouza/fake-gcs-server/fakestorage"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/donmikel/assetstore/applications/assetstore/adapters/backendtest"
	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
)

const testBucket = "assets"

func newFakeServer(t *testing.T) *fakestorage.Server {
	t.Helper()

	server, err := fakestorage.NewServerWithOptions(fakestorage.Options{NoListener: true})
	require.NoError(t, err)
	t.Cleanup(server.Stop)

	server.CreateBucketWithOpts(fakestorage.CreateBucketOpts{Name: testBucket})
	return server
}

func TestStorageContract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) interfaces.StorageBackend {
		return NewStorage(newFakeServer(t).Client(), testBucket, log.NewNopLogger())
	})
}

func TestListSkipsNestedObjects(t *testing.T) {
	server := newFakeServer(t)
	s := NewStorage(server.Client(), testBucket, log.NewNopLogger())

	key := backendtest.Key(t, "P1", "front.jpg", domain.VariantOriginal)
	backendtest.Put(t, s, key, "a")
	backendtest.Put(t, s, backendtest.Prefix(t, "P1")+"nested/deeper.jpg", "b")

	assert.Equal(t, []string{key}, backendtest.Collect(t, s, backendtest.Prefix(t, "P1")))

	require.NoError(t, s.DeleteByPrefix(context.Background(), backendtest.Prefix(t, "P1")))
	objects, _, err := server.ListObjectsWithOptions(testBucket, fakestorage.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, objects)
}

func TestCloseReleasesClient(t *testing.T) {
	s := NewStorage(newFakeServer(t).Client(), testBucket, log.NewNopLogger())

	closer, ok := s.(io.Closer)
	require.True(t, ok)
	assert.NoError(t, closer.Close())
}

func TestStorageErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"object not exist", storage.ErrObjectNotExist, domain.ErrAssetNotFound},
		{"wrapped not exist", fmt.Errorf("read: %w", storage.ErrObjectNotExist), domain.ErrAssetNotFound},
		{"http 404", &googleapi.Error{Code: http.StatusNotFound}, domain.ErrAssetNotFound},
		{"quota", &googleapi.Error{Code: http.StatusForbidden, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, domain.ErrStorageQuotaExceeded},
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, domain.ErrStorageUnavailable},
		{"transport", errors.New("dial tcp: i/o timeout"), domain.ErrStorageUnavailable},
		{"deadline", context.DeadlineExceeded, context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storageError("get", "T1/product-image/P1/a.jpg", tt.err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
