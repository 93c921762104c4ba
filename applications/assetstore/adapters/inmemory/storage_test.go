package inmemory

import (
	"context"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/assetstore/applications/assetstore/adapters/backendtest"
	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
)

func TestStorageContract(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) interfaces.StorageBackend {
		return NewStorage(0, log.NewNopLogger())
	})
}

func TestStorageQuota(t *testing.T) {
	s := NewStorage(10, log.NewNopLogger())
	key := backendtest.Key(t, "P1", "a.jpg", domain.VariantOriginal)

	backendtest.Put(t, s, key, "12345678")

	_, err := s.Put(context.Background(), backendtest.Key(t, "P1", "b.jpg", domain.VariantOriginal), "image/jpeg", strings.NewReader("12345"))
	assert.ErrorIs(t, err, domain.ErrStorageQuotaExceeded)

	// replacing an object only needs room for the difference
	backendtest.Put(t, s, key, "1234567890")
	assert.Equal(t, int64(0), s.(*inMemoryStorage).FreeSpace())

	require.NoError(t, s.Delete(context.Background(), key))
	assert.Equal(t, int64(10), s.(*inMemoryStorage).FreeSpace())
}

func TestStorageCancelledPut(t *testing.T) {
	s := NewStorage(0, log.NewNopLogger())
	key := backendtest.Key(t, "P1", "a.jpg", domain.VariantOriginal)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, key, "image/jpeg", strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Get(context.Background(), key)
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
}
