package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
	"github.com/donmikel/assetstore/applications/assetstore/keys"
)

const defaultContentType = "application/octet-stream"

// Manager exposes assets by owner and file name and hides key derivation and the storage
// backend from its callers.
type Manager struct {
	backend          interfaces.StorageBackend
	operationTimeout time.Duration
	log              log.Logger
}

type ManagerOption func(*Manager)

// WithOperationTimeout bounds every backend call in addition to the caller's context. For the
// streams of PutAsset and GetAsset it is an idle timeout: every read of the stream restarts it,
// so a slow transfer that keeps moving is not cut off.
func WithOperationTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.operationTimeout = d
	}
}

func NewManager(backend interfaces.StorageBackend, logger log.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		backend: backend,
		log:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PutAsset stores body as the asset's content. body is closed before PutAsset returns, whatever
// the outcome. The returned asset carries the stored byte length and content type.
func (m *Manager) PutAsset(ctx context.Context, asset domain.Asset, body io.ReadCloser) (domain.Asset, error) {
	if body == nil {
		return domain.Asset{}, fmt.Errorf("can't put %q: %w", asset.FileName, domain.ErrMissingContent)
	}
	defer m.closeBody(body, asset.FileName)

	asset.Variant = asset.Variant.OrDefault()
	if asset.ContentType == "" {
		asset.ContentType = defaultContentType
	}

	key, err := keys.Build(asset.AssetID)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("can't build storage key: %w", err)
	}

	ctx, wd := m.watch(ctx)
	defer wd.stop()

	written, err := m.backend.Put(ctx, key, asset.ContentType, &progressReader{r: body, wd: wd})
	if err != nil {
		return domain.Asset{}, wd.translate("put", key, err)
	}
	asset.ByteLength = written

	level.Info(m.log).Log("msg", "asset stored",
		"key", key,
		"content_type", asset.ContentType,
		"size", humanize.Bytes(uint64(written)),
	)

	return asset, nil
}

// PutRenditions stores every pre-generated variant of one file. It stops at the first failure;
// bodies not stored yet are closed as well.
func (m *Manager) PutRenditions(ctx context.Context, asset domain.Asset, renditions []domain.Rendition) ([]domain.Asset, error) {
	stored := make([]domain.Asset, 0, len(renditions))

	for i, r := range renditions {
		variant := asset
		variant.Variant = r.Variant.OrDefault()
		if r.ContentType != "" {
			variant.ContentType = r.ContentType
		}

		result, err := m.PutAsset(ctx, variant, r.Body)
		if err != nil {
			for _, rest := range renditions[i+1:] {
				if rest.Body != nil {
					m.closeBody(rest.Body, asset.FileName)
				}
			}
			return stored, fmt.Errorf("can't put %s rendition: %w", variant.Variant, err)
		}
		stored = append(stored, result)
	}

	return stored, nil
}

// GetAsset opens the content of one asset. The caller must close the returned reader.
func (m *Manager) GetAsset(ctx context.Context, id domain.AssetID) (io.ReadCloser, error) {
	id.Variant = id.Variant.OrDefault()

	key, err := keys.Build(id)
	if err != nil {
		return nil, fmt.Errorf("can't build storage key: %w", err)
	}

	ctx, wd := m.watch(ctx)
	body, err := m.backend.Get(ctx, key)
	if err != nil {
		wd.stop()
		return nil, wd.translate("get", key, err)
	}

	return &watchedBody{ReadCloser: body, wd: wd}, nil
}

// ListAssets yields the assets stored for owner. Keys that don't parse back into an asset of
// this owner are skipped. ByteLength and ContentType are not known from a listing.
func (m *Manager) ListAssets(ctx context.Context, owner domain.Owner) iter.Seq2[domain.Asset, error] {
	return func(yield func(domain.Asset, error) bool) {
		prefix, err := keys.Prefix(owner)
		if err != nil {
			yield(domain.Asset{}, fmt.Errorf("can't build owner prefix: %w", err))
			return
		}

		ctx, cancel := m.withTimeout(ctx)
		defer cancel()

		for key, err := range m.backend.List(ctx, prefix) {
			if err != nil {
				yield(domain.Asset{}, translate("list", prefix, err))
				return
			}

			id, err := keys.Parse(key)
			if err != nil || id.Owner != owner {
				level.Debug(m.log).Log("msg", "skipping foreign key", "key", key, "err", err)
				continue
			}

			if !yield(domain.Asset{AssetID: id, ByteLength: domain.UnknownLength}, nil) {
				return
			}
		}
	}
}

// DeleteAsset removes every size variant of fileName. Other files of the owner are untouched.
func (m *Manager) DeleteAsset(ctx context.Context, owner domain.Owner, fileName string) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var errs []error
	for _, variant := range domain.Variants {
		key, err := keys.Build(owner.Asset(fileName, variant))
		if err != nil {
			return fmt.Errorf("can't build storage key: %w", err)
		}

		if err = m.backend.Delete(ctx, key); err != nil {
			errs = append(errs, translate("delete", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	level.Info(m.log).Log("msg", "asset deleted", "owner", owner.String(), "file_name", fileName)

	return nil
}

// DeleteAllForOwner removes every object stored under the owner's prefix.
func (m *Manager) DeleteAllForOwner(ctx context.Context, owner domain.Owner) error {
	prefix, err := keys.Prefix(owner)
	if err != nil {
		return fmt.Errorf("can't build owner prefix: %w", err)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if err = m.backend.DeleteByPrefix(ctx, prefix); err != nil {
		return translate("delete-prefix", prefix, err)
	}

	level.Info(m.log).Log("msg", "owner assets deleted", "prefix", prefix)

	return nil
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.operationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.operationTimeout)
}

func (m *Manager) closeBody(body io.Closer, fileName string) {
	if err := body.Close(); err != nil {
		level.Warn(m.log).Log("msg", "can't close asset stream", "file_name", fileName, "err", err)
	}
}

// translate keeps backend errors that already belong to the taxonomy and classifies the rest.
func translate(op, key string, err error) error {
	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return domain.NewStorageError(op, key, domain.KindOf(err), err)
}

// watchdog cancels an operation once it has made no progress for the operation timeout.
type watchdog struct {
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelFunc
	expired atomic.Bool
}

func (m *Manager) watch(ctx context.Context) (context.Context, *watchdog) {
	ctx, cancel := context.WithCancel(ctx)
	wd := &watchdog{timeout: m.operationTimeout, cancel: cancel}
	if wd.timeout > 0 {
		wd.timer = time.AfterFunc(wd.timeout, func() {
			wd.expired.Store(true)
			cancel()
		})
	}
	return ctx, wd
}

func (wd *watchdog) touch() {
	if wd.timer != nil && !wd.expired.Load() {
		wd.timer.Reset(wd.timeout)
	}
}

func (wd *watchdog) stop() {
	if wd.timer != nil {
		wd.timer.Stop()
	}
	wd.cancel()
}

// translate reports an idle timeout as context.DeadlineExceeded rather than as cancellation.
func (wd *watchdog) translate(op, key string, err error) error {
	if wd.expired.Load() {
		return domain.NewStorageError(op, key, context.DeadlineExceeded,
			fmt.Errorf("no progress for %s: %w", wd.timeout, err))
	}
	return translate(op, key, err)
}

type progressReader struct {
	r  io.Reader
	wd *watchdog
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.wd.touch()
	}
	return n, err
}

// watchedBody keeps the operation context of a Get alive while the stream is read and releases
// it on Close.
type watchedBody struct {
	io.ReadCloser
	wd   *watchdog
	once sync.Once
	err  error
}

func (w *watchedBody) Read(b []byte) (int, error) {
	n, err := w.ReadCloser.Read(b)
	if n > 0 {
		w.wd.touch()
	}
	if err != nil && err != io.EOF && w.wd.expired.Load() {
		err = fmt.Errorf("no progress for %s: %w", w.wd.timeout, context.DeadlineExceeded)
	}
	return n, err
}

func (w *watchedBody) Close() error {
	w.once.Do(func() {
		w.err = w.ReadCloser.Close()
		w.wd.stop()
	})
	return w.err
}
