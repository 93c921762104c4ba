// Package backendtest holds the contract tests every storage backend has to pass.
package backendtest

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
	"github.com/donmikel/assetstore/applications/assetstore/keys"
)

// Run executes the contract against fresh backends returned by newBackend.
func Run(t *testing.T, newBackend func(t *testing.T) interfaces.StorageBackend) {
	t.Run("put then get", func(t *testing.T) { testPutGet(t, newBackend(t)) })
	t.Run("overwrite", func(t *testing.T) { testOverwrite(t, newBackend(t)) })
	t.Run("get missing", func(t *testing.T) { testGetMissing(t, newBackend(t)) })
	t.Run("idempotent delete", func(t *testing.T) { testIdempotentDelete(t, newBackend(t)) })
	t.Run("prefix containment", func(t *testing.T) { testPrefixContainment(t, newBackend(t)) })
	t.Run("list is restartable", func(t *testing.T) { testListRestartable(t, newBackend(t)) })
	t.Run("delete by prefix", func(t *testing.T) { testDeleteByPrefix(t, newBackend(t)) })
	t.Run("failed put", func(t *testing.T) { testFailedPut(t, newBackend(t)) })
}

func Owner(id string) domain.Owner {
	return domain.Owner{TenantCode: "T1", Category: domain.CategoryProductImage, OwnerID: id}
}

func Key(t *testing.T, owner, fileName string, variant domain.SizeVariant) string {
	t.Helper()

	key, err := keys.Build(Owner(owner).Asset(fileName, variant))
	require.NoError(t, err)
	return key
}

func Prefix(t *testing.T, owner string) string {
	t.Helper()

	prefix, err := keys.Prefix(Owner(owner))
	require.NoError(t, err)
	return prefix
}

func Put(t *testing.T, b interfaces.StorageBackend, key, content string) {
	t.Helper()

	n, err := b.Put(context.Background(), key, "image/jpeg", strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), n)
}

func Read(t *testing.T, b interfaces.StorageBackend, key string) string {
	t.Helper()

	rc, err := b.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func Collect(t *testing.T, b interfaces.StorageBackend, prefix string) []string {
	t.Helper()

	var result []string
	for key, err := range b.List(context.Background(), prefix) {
		require.NoError(t, err)
		result = append(result, key)
	}
	sort.Strings(result)
	return result
}

func testPutGet(t *testing.T, b interfaces.StorageBackend) {
	key := Key(t, "P100", "front.jpg", domain.VariantOriginal)
	Put(t, b, key, "bytes1")

	assert.Equal(t, "bytes1", Read(t, b, key))
}

func testOverwrite(t *testing.T, b interfaces.StorageBackend) {
	key := Key(t, "P100", "front.jpg", domain.VariantOriginal)
	Put(t, b, key, "bytes1")
	Put(t, b, key, "bytes2")

	assert.Equal(t, "bytes2", Read(t, b, key))
	assert.Equal(t, []string{key}, Collect(t, b, Prefix(t, "P100")))
}

func testGetMissing(t *testing.T, b interfaces.StorageBackend) {
	_, err := b.Get(context.Background(), Key(t, "P100", "missing.jpg", domain.VariantOriginal))
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
}

func testIdempotentDelete(t *testing.T, b interfaces.StorageBackend) {
	key := Key(t, "P100", "front.jpg", domain.VariantOriginal)
	Put(t, b, key, "bytes1")

	require.NoError(t, b.Delete(context.Background(), key))
	require.NoError(t, b.Delete(context.Background(), key))

	_, err := b.Get(context.Background(), key)
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)
}

func testPrefixContainment(t *testing.T, b interfaces.StorageBackend) {
	p1 := Key(t, "P1", "front.jpg", domain.VariantOriginal)
	p1Large := Key(t, "P1", "front.jpg", domain.VariantLarge)
	p10 := Key(t, "P10", "front.jpg", domain.VariantOriginal)
	p1x := Key(t, "P1x", "side.jpg", domain.VariantOriginal)
	Put(t, b, p1, "a")
	Put(t, b, p1Large, "b")
	Put(t, b, p10, "c")
	Put(t, b, p1x, "d")

	assert.Equal(t, []string{p1Large, p1}, Collect(t, b, Prefix(t, "P1")))
	assert.Equal(t, []string{p10}, Collect(t, b, Prefix(t, "P10")))
	assert.Empty(t, Collect(t, b, Prefix(t, "P2")))
}

func testListRestartable(t *testing.T, b interfaces.StorageBackend) {
	Put(t, b, Key(t, "P1", "a.jpg", domain.VariantOriginal), "a")
	Put(t, b, Key(t, "P1", "b.jpg", domain.VariantOriginal), "b")

	seq := b.List(context.Background(), Prefix(t, "P1"))

	first := 0
	for _, err := range seq {
		require.NoError(t, err)
		first++
		break
	}
	second := 0
	for _, err := range seq {
		require.NoError(t, err)
		second++
	}

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func testDeleteByPrefix(t *testing.T, b interfaces.StorageBackend) {
	keep := Key(t, "P10", "front.jpg", domain.VariantOriginal)
	Put(t, b, Key(t, "P1", "front.jpg", domain.VariantOriginal), "a")
	Put(t, b, Key(t, "P1", "front.jpg", domain.VariantSmall), "b")
	Put(t, b, Key(t, "P1", "side.jpg", domain.VariantOriginal), "c")
	Put(t, b, keep, "d")

	require.NoError(t, b.DeleteByPrefix(context.Background(), Prefix(t, "P1")))
	require.NoError(t, b.DeleteByPrefix(context.Background(), Prefix(t, "P1")))

	assert.Empty(t, Collect(t, b, Prefix(t, "P1")))
	assert.Equal(t, "d", Read(t, b, keep))
}

var errBrokenStream = errors.New("broken stream")

type failingReader struct {
	data []byte
	sent bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.sent {
		return 0, errBrokenStream
	}
	f.sent = true
	return copy(p, f.data), nil
}

func testFailedPut(t *testing.T, b interfaces.StorageBackend) {
	fresh := Key(t, "P1", "new.jpg", domain.VariantOriginal)
	_, err := b.Put(context.Background(), fresh, "image/jpeg", &failingReader{data: []byte("partial")})
	require.Error(t, err)

	_, err = b.Get(context.Background(), fresh)
	assert.ErrorIs(t, err, domain.ErrAssetNotFound)

	existing := Key(t, "P1", "old.jpg", domain.VariantOriginal)
	Put(t, b, existing, "old")
	_, err = b.Put(context.Background(), existing, "image/jpeg", &failingReader{data: []byte("partial")})
	require.Error(t, err)

	assert.Equal(t, "old", Read(t, b, existing))
	assert.Equal(t, []string{existing}, Collect(t, b, Prefix(t, "P1")))
}
