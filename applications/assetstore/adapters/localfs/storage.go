// Package localfs stores assets as files below a root directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/afero"

	"github.com/donmikel/assetstore/applications/assetstore/adapters/bulk"
	"github.com/donmikel/assetstore/applications/assetstore/adapters/ioctx"
	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
)

const (
	BackendName = "local-fs"

	// Uploads are written to hidden files first. Key segments never start with a dot, so these
	// files can't collide with stored objects and are skipped by List.
	tempPattern    = ".upload-*"
	tempNamePrefix = ".upload-"

	dirPerm = 0o755
)

type fsStorage struct {
	fs          afero.Fs
	log         log.Logger
	parallelism int
}

// NewStorage returns a backend storing objects in fsys, keys being paths relative to its root.
func NewStorage(fsys afero.Fs, logger log.Logger) interfaces.StorageBackend {
	return &fsStorage{
		fs:          fsys,
		log:         logger,
		parallelism: 4,
	}
}

// NewOSStorage returns a backend rooted at the rootPath directory of the local disk.
func NewOSStorage(rootPath string, logger log.Logger) (interfaces.StorageBackend, error) {
	if rootPath == "" {
		return nil, errors.New("empty root path")
	}

	osFs := afero.NewOsFs()
	if err := osFs.MkdirAll(rootPath, dirPerm); err != nil {
		return nil, fmt.Errorf("can't create root directory: %w", err)
	}

	return NewStorage(afero.NewBasePathFs(osFs, rootPath), logger), nil
}

func (s *fsStorage) Name() string {
	return BackendName
}

func (s *fsStorage) Put(ctx context.Context, key, contentType string, body io.Reader) (int64, error) {
	target := filePath(key)
	dir := filepath.Dir(target)

	if err := s.fs.MkdirAll(dir, dirPerm); err != nil {
		return 0, storageError("put", key, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, tempPattern)
	if err != nil {
		return 0, storageError("put", key, err)
	}

	written, err := io.Copy(tmp, ioctx.Reader(ctx, body))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = s.fs.Rename(tmp.Name(), target)
	}
	if err != nil {
		if rmErr := s.fs.Remove(tmp.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			level.Warn(s.log).Log("msg", "can't remove temporary upload", "path", tmp.Name(), "err", rmErr)
		}
		return 0, storageError("put", key, err)
	}

	level.Debug(s.log).Log("msg", "object stored",
		"key", key,
		"storage", BackendName,
		"size", humanize.Bytes(uint64(written)),
	)

	return written, nil
}

func (s *fsStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageError("get", key, err)
	}

	f, err := s.fs.Open(filePath(key))
	if err != nil {
		return nil, storageError("get", key, err)
	}

	info, err := f.Stat()
	if err == nil && info.IsDir() {
		err = os.ErrNotExist
	}
	if err != nil {
		f.Close()
		return nil, storageError("get", key, err)
	}

	return f, nil
}

func (s *fsStorage) List(ctx context.Context, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := ctx.Err(); err != nil {
			yield("", storageError("list", prefix, err))
			return
		}

		keyDir, namePrefix := splitPrefix(prefix)
		entries, err := afero.ReadDir(s.fs, filePath(keyDir))
		if err != nil {
			if !os.IsNotExist(err) {
				yield("", storageError("list", prefix, err))
			}
			return
		}

		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasPrefix(name, namePrefix) {
				continue
			}
			if !yield(keyDir+name, nil) {
				return
			}
		}
	}
}

func (s *fsStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return storageError("delete", key, err)
	}

	err := s.fs.Remove(filePath(key))
	if err != nil && !os.IsNotExist(err) {
		return storageError("delete", key, err)
	}

	return nil
}

func (s *fsStorage) DeleteByPrefix(ctx context.Context, prefix string) error {
	if err := bulk.DeleteAll(ctx, s.walk(prefix), s.Delete, s.parallelism, s.log); err != nil {
		return err
	}

	// drop the owner directory once it is empty; a non-empty one is left alone
	if keyDir, namePrefix := splitPrefix(prefix); namePrefix == "" && keyDir != "" {
		if err := s.fs.Remove(filePath(keyDir)); err != nil && !os.IsNotExist(err) {
			level.Warn(s.log).Log("msg", "can't remove owner directory", "prefix", prefix, "err", err)
		}
	}

	return nil
}

// walk yields every stored key starting with prefix, at any depth. Upload temp files left
// behind by an interrupted Put are yielded too, so they are removed with their folder.
func (s *fsStorage) walk(prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		keyDir, _ := splitPrefix(prefix)

		var found []string
		err := afero.Walk(s.fs, filePath(keyDir), func(p string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() {
				return nil
			}
			if name := info.Name(); strings.HasPrefix(name, ".") && !strings.HasPrefix(name, tempNamePrefix) {
				return nil
			}

			key := strings.TrimPrefix(filepath.ToSlash(p), "/")
			if strings.HasPrefix(key, prefix) {
				found = append(found, key)
			}
			return nil
		})
		if err != nil {
			yield("", storageError("list", prefix, err))
			return
		}

		for _, key := range found {
			if !yield(key, nil) {
				return
			}
		}
	}
}

func filePath(key string) string {
	return filepath.FromSlash(path.Join("/", key))
}

// splitPrefix splits "a/b/c" into the directory part "a/b/" and the name part "c".
func splitPrefix(prefix string) (string, string) {
	i := strings.LastIndex(prefix, "/")
	return prefix[:i+1], prefix[i+1:]
}

func storageError(op, key string, err error) error {
	switch {
	case os.IsNotExist(err):
		return domain.NewStorageError(op, key, domain.ErrAssetNotFound, err)
	case errors.Is(err, syscall.ENOSPC):
		return domain.NewStorageError(op, key, domain.ErrStorageQuotaExceeded, err)
	}
	return domain.NewStorageError(op, key, domain.KindOf(err), err)
}
