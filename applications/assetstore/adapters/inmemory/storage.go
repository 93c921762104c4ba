package inmemory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/donmikel/assetstore/applications/assetstore/adapters/bulk"
	"github.com/donmikel/assetstore/applications/assetstore/adapters/ioctx"
	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
)

const (
	BackendName = "memory"

	DefaultQuotaInBytes = 100 * 1024 * 1024 // 100 Mb
)

type object struct {
	data        []byte
	contentType string
}

type inMemoryStorage struct {
	objects   map[string]object
	freeSpace int64
	log       log.Logger
	mutex     sync.RWMutex
}

// NewStorage returns a storage backend that keeps objects in memory and refuses writes once
// quotaInBytes is used up. A non-positive quota means DefaultQuotaInBytes.
func NewStorage(quotaInBytes int64, logger log.Logger) interfaces.StorageBackend {
	if quotaInBytes <= 0 {
		quotaInBytes = DefaultQuotaInBytes
	}

	return &inMemoryStorage{
		objects:   map[string]object{},
		freeSpace: quotaInBytes,
		log:       logger,
	}
}

func (m *inMemoryStorage) Name() string {
	return BackendName
}

func (m *inMemoryStorage) Put(ctx context.Context, key, contentType string, body io.Reader) (int64, error) {
	data, err := io.ReadAll(ioctx.Reader(ctx, body))
	if err != nil {
		return 0, domain.NewStorageError("put", key, domain.KindOf(err), err)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	dataLen := int64(len(data))
	available := m.freeSpace + int64(len(m.objects[key].data))
	if dataLen > available {
		return 0, domain.NewStorageError("put", key, domain.ErrStorageQuotaExceeded,
			fmt.Errorf("need %s, %s free", humanize.Bytes(uint64(dataLen)), humanize.Bytes(uint64(available))))
	}

	m.objects[key] = object{data: data, contentType: contentType}
	m.freeSpace = available - dataLen

	level.Debug(m.log).Log("msg", "object stored",
		"key", key,
		"storage", BackendName,
		"size", humanize.Bytes(uint64(dataLen)),
		"free_space", humanize.Bytes(uint64(m.freeSpace)),
	)

	return dataLen, nil
}

func (m *inMemoryStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewStorageError("get", key, domain.KindOf(err), err)
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, domain.NewStorageError("get", key, domain.ErrAssetNotFound, nil)
	}

	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *inMemoryStorage) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return m.keys(ctx, prefix, false)
}

func (m *inMemoryStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStorageError("delete", key, domain.KindOf(err), err)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.freeSpace += int64(len(m.objects[key].data))
	delete(m.objects, key)

	return nil
}

func (m *inMemoryStorage) DeleteByPrefix(ctx context.Context, prefix string) error {
	return bulk.DeleteAll(ctx, m.keys(ctx, prefix, true), m.Delete, 1, m.log)
}

// FreeSpace returns the number of bytes that can still be stored.
func (m *inMemoryStorage) FreeSpace() int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.freeSpace
}

// keys yields a sorted snapshot so callers may delete while ranging.
func (m *inMemoryStorage) keys(ctx context.Context, prefix string, recursive bool) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := ctx.Err(); err != nil {
			yield("", domain.NewStorageError("list", prefix, domain.KindOf(err), err))
			return
		}

		m.mutex.RLock()
		snapshot := make([]string, 0, len(m.objects))
		for key := range m.objects {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			if !recursive && strings.Contains(key[len(prefix):], "/") {
				continue
			}
			snapshot = append(snapshot, key)
		}
		m.mutex.RUnlock()

		sort.Strings(snapshot)
		for _, key := range snapshot {
			if !yield(key, nil) {
				return
			}
		}
	}
}
