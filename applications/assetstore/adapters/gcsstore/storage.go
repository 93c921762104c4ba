// Package gcsstore keeps assets in a Google Cloud Storage bucket ("object-store-b").
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/donmikel/assetstore/applications/assetstore/adapters/bulk"
	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
)

const (
	BackendName = "object-store-b"

	delimiter = "/"
)

// Options configures the client built by NewStorageFromOptions.
type Options struct {
	Bucket          string
	CredentialsFile string
	Endpoint        string
}

type gcsStorage struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	log    log.Logger
}

// NewStorageFromOptions creates its own client. The returned backend implements io.Closer to
// release it.
func NewStorageFromOptions(ctx context.Context, opts Options, logger log.Logger) (interfaces.StorageBackend, error) {
	clientOpts := []option.ClientOption{}
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("can't create gcs client: %w", err)
	}

	return NewStorage(client, opts.Bucket, logger), nil
}

func NewStorage(client *storage.Client, bucket string, logger log.Logger) interfaces.StorageBackend {
	return &gcsStorage{
		client: client,
		bucket: client.Bucket(bucket),
		name:   bucket,
		log:    logger,
	}
}

func (s *gcsStorage) Name() string {
	return BackendName
}

func (s *gcsStorage) Close() error {
	return s.client.Close()
}

// Put streams body into an upload that is committed by Close. On a failed copy the writer
// context is cancelled and Close is never called, so nothing written so far is committed.
func (s *gcsStorage) Put(ctx context.Context, key, contentType string, body io.Reader) (int64, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(key).NewWriter(wctx)
	w.ContentType = contentType

	written, err := io.Copy(w, body)
	if err != nil {
		return 0, storageError("put", key, err)
	}
	if err = w.Close(); err != nil {
		return 0, storageError("put", key, err)
	}

	level.Debug(s.log).Log("msg", "object uploaded",
		"key", key,
		"bucket", s.name,
		"size", humanize.Bytes(uint64(written)),
	)

	return written, nil
}

func (s *gcsStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, storageError("get", key, err)
	}

	return r, nil
}

func (s *gcsStorage) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return s.keys(ctx, prefix, delimiter)
}

func (s *gcsStorage) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if err != nil {
		if err = storageError("delete", key, err); errors.Is(err, domain.ErrAssetNotFound) {
			return nil
		}
		return err
	}

	return nil
}

func (s *gcsStorage) DeleteByPrefix(ctx context.Context, prefix string) error {
	return bulk.DeleteAll(ctx, s.keys(ctx, prefix, ""), s.Delete, 0, s.log)
}

func (s *gcsStorage) keys(ctx context.Context, prefix, delim string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		query := &storage.Query{Prefix: prefix, Delimiter: delim}
		if err := query.SetAttrSelection([]string{"Name"}); err != nil {
			yield("", storageError("list", prefix, err))
			return
		}

		it := s.bucket.Objects(ctx, query)
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", storageError("list", prefix, err))
				return
			}
			// synthetic directory entries only carry Prefix
			if attrs.Name == "" {
				continue
			}
			if !yield(attrs.Name, nil) {
				return
			}
		}
	}
}

func storageError(op, key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return domain.NewStorageError(op, key, domain.ErrAssetNotFound, err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		for _, item := range apiErr.Errors {
			if item.Reason == "quotaExceeded" || item.Reason == "storageQuotaExceeded" {
				return domain.NewStorageError(op, key, domain.ErrStorageQuotaExceeded, err)
			}
		}
		if apiErr.Code == http.StatusNotFound {
			return domain.NewStorageError(op, key, domain.ErrAssetNotFound, err)
		}
	}

	return domain.NewStorageError(op, key, domain.KindOf(err), err)
}
