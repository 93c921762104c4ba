// Package backends opens the storage backend named in the configuration.
package backends

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/donmikel/assetstore/applications/assetstore/adapters/gcsstore"
	"github.com/donmikel/assetstore/applications/assetstore/adapters/inmemory"
	"github.com/donmikel/assetstore/applications/assetstore/adapters/localfs"
	"github.com/donmikel/assetstore/applications/assetstore/adapters/s3store"
	"github.com/donmikel/assetstore/applications/assetstore/config"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
)

// Factory builds a backend from the storage section of the configuration.
type Factory func(ctx context.Context, cfg config.Storage, logger log.Logger) (interfaces.StorageBackend, error)

type Registry struct {
	factories map[string]Factory
	m         sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{},
	}
}

// Default returns a registry knowing every backend shipped with the module.
func Default() *Registry {
	r := NewRegistry()
	r.Register(config.BackendMemory, openMemory)
	r.Register(config.BackendLocalFS, openLocalFS)
	r.Register(config.BackendObjectStoreA, openObjectStoreA)
	r.Register(config.BackendObjectStoreB, openObjectStoreB)
	return r
}

func (r *Registry) Register(name string, factory Factory) {
	r.m.Lock()
	defer r.m.Unlock()

	r.factories[name] = factory
}

func (r *Registry) Names() []string {
	r.m.Lock()
	defer r.m.Unlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Open builds the configured backend. It is meant to be called once at startup; the returned
// backend is used for every call afterwards.
func (r *Registry) Open(ctx context.Context, cfg config.Storage, logger log.Logger) (interfaces.StorageBackend, error) {
	r.m.Lock()
	factory, ok := r.factories[cfg.Backend]
	r.m.Unlock()

	if !ok {
		return nil, fmt.Errorf("storage backend %q not registered, known: %s", cfg.Backend, strings.Join(r.Names(), ", "))
	}

	backend, err := factory(ctx, cfg, log.With(logger, "backend", cfg.Backend))
	if err != nil {
		return nil, fmt.Errorf("can't open storage backend %q: %w", cfg.Backend, err)
	}

	level.Info(logger).Log("msg", "storage backend opened",
		"backend", backend.Name(),
		"location", cfg.BucketOrRootPath,
	)

	return backend, nil
}

// Close releases backend resources if the backend holds any.
func Close(backend interfaces.StorageBackend) error {
	if c, ok := backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func openMemory(_ context.Context, cfg config.Storage, logger log.Logger) (interfaces.StorageBackend, error) {
	return inmemory.NewStorage(cfg.QuotaBytes, logger), nil
}

func openLocalFS(_ context.Context, cfg config.Storage, logger log.Logger) (interfaces.StorageBackend, error) {
	return localfs.NewOSStorage(cfg.BucketOrRootPath, logger)
}

func openObjectStoreA(ctx context.Context, cfg config.Storage, logger log.Logger) (interfaces.StorageBackend, error) {
	pathStyle, _ := strconv.ParseBool(cfg.Credentials["use_path_style"])

	client, err := s3store.NewClient(ctx, s3store.Options{
		Region:          cfg.Credentials["region"],
		Endpoint:        cfg.Credentials["endpoint"],
		AccessKeyID:     cfg.Credentials["access_key_id"],
		SecretAccessKey: cfg.Credentials["secret_access_key"],
		SessionToken:    cfg.Credentials["session_token"],
		UsePathStyle:    pathStyle,
	})
	if err != nil {
		return nil, err
	}

	return s3store.NewStorage(client, cfg.BucketOrRootPath, logger), nil
}

func openObjectStoreB(ctx context.Context, cfg config.Storage, logger log.Logger) (interfaces.StorageBackend, error) {
	backend, err := gcsstore.NewStorageFromOptions(ctx, gcsstore.Options{
		Bucket:          cfg.BucketOrRootPath,
		CredentialsFile: cfg.Credentials["credentials_file"],
		Endpoint:        cfg.Credentials["endpoint"],
	}, logger)
	if err != nil {
		return nil, err
	}

	return backend, nil
}
