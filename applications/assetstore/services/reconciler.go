package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/donmikel/assetstore/applications/assetstore"
	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
	"github.com/donmikel/assetstore/applications/assetstore/keys"
)

// Reconciler converges the stored image set of an owner to the set supplied on save.
//
// Creates and updates run before deletes, so an interrupted run never leaves the owner with
// fewer images than either the previous or the desired set. A failed create or update is
// reported in the result and does not stop the run; load and delete failures are returned as
// errors. Concurrent saves for the same owner are not serialized.
type Reconciler struct {
	assets assetstore.AssetService
	repo   interfaces.AssetRepository
	log    log.Logger
	now    func() time.Time
}

func NewReconciler(assets assetstore.AssetService, repo interfaces.AssetRepository, logger log.Logger) *Reconciler {
	return &Reconciler{
		assets: assets,
		repo:   repo,
		log:    logger,
		now:    time.Now,
	}
}

// Reconcile applies req. Every body in req.Images is closed before Reconcile returns.
func (r *Reconciler) Reconcile(ctx context.Context, req domain.SaveRequest) (domain.ReconciliationResult, error) {
	var result domain.ReconciliationResult

	images := make([]domain.DesiredImage, len(req.Images))
	for i, img := range req.Images {
		if img.Body != nil {
			img.Body = &onceCloser{ReadCloser: img.Body}
		}
		images[i] = img
	}
	defer closeImages(images)

	logger := log.With(r.log, "run_id", uuid.NewString(), "owner", req.Owner.String())

	if _, err := keys.Prefix(req.Owner); err != nil {
		return result, fmt.Errorf("invalid owner: %w", err)
	}

	previous, pending, err := r.load(ctx, req.Owner)
	if err != nil {
		return result, fmt.Errorf("can't load previous image set: %w", err)
	}

	plan, err := Diff(previous, images)
	if err != nil {
		return result, fmt.Errorf("can't plan reconciliation: %w", err)
	}
	result.Unchanged = len(plan.Unchanged)

	level.Debug(logger).Log("msg", "reconciliation planned",
		"previous", len(previous),
		"create", len(plan.ToCreate),
		"update", len(plan.ToUpdate),
		"delete", len(plan.ToDelete),
		"unchanged", len(plan.Unchanged),
	)

	for _, change := range plan.ToCreate {
		if err = ctx.Err(); err != nil {
			return result, err
		}
		if r.apply(ctx, logger, req.Owner, change, true, &result) {
			result.Created++
		}
	}

	for _, change := range plan.ToUpdate {
		if err = ctx.Err(); err != nil {
			return result, err
		}
		if r.apply(ctx, logger, req.Owner, change, false, &result) {
			result.Updated++
		}
	}

	upserts := plan.Upserts()
	for _, name := range plan.ToDelete {
		if _, ok := upserts[name]; ok {
			continue
		}

		if err = r.assets.DeleteAsset(ctx, req.Owner, name); err != nil {
			return result, fmt.Errorf("can't delete image %q: %w", name, err)
		}
		if err = r.forget(ctx, req.Owner, name); err != nil {
			return result, fmt.Errorf("can't delete metadata of image %q: %w", name, err)
		}
		result.Deleted++
	}

	r.prunePending(ctx, logger, plan, pending)

	logResult := level.Info(logger)
	if result.Partial() {
		logResult = level.Warn(logger)
	}
	logResult.Log("msg", "reconciliation finished",
		"created", result.Created,
		"updated", result.Updated,
		"deleted", result.Deleted,
		"unchanged", result.Unchanged,
		"failed", result.Failed(),
	)

	return result, nil
}

// load returns the recorded assets merged with what the backend actually holds, so objects
// missing from the metadata store are still seen and can be removed as orphans. Records of
// uploads that never made it to storage are returned separately.
func (r *Reconciler) load(ctx context.Context, owner domain.Owner) ([]domain.Asset, []domain.AssetID, error) {
	seen := map[domain.AssetID]struct{}{}
	var previous []domain.Asset
	var pending []domain.AssetID

	records, err := r.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, nil, fmt.Errorf("can't list asset records: %w", err)
	}
	for _, rec := range records {
		if !rec.Stored {
			pending = append(pending, rec.Asset.AssetID)
			continue
		}
		seen[rec.Asset.AssetID] = struct{}{}
		previous = append(previous, rec.Asset)
	}

	for asset, err := range r.assets.ListAssets(ctx, owner) {
		if err != nil {
			return nil, nil, fmt.Errorf("can't list stored assets: %w", err)
		}
		if _, ok := seen[asset.AssetID]; ok {
			continue
		}
		seen[asset.AssetID] = struct{}{}
		previous = append(previous, asset)
	}

	return previous, pending, nil
}

// prunePending drops failed-upload records of files the caller no longer wants.
func (r *Reconciler) prunePending(ctx context.Context, logger log.Logger, plan domain.ReconciliationPlan, pending []domain.AssetID) {
	wanted := plan.Upserts()
	for _, name := range plan.Unchanged {
		wanted[name] = struct{}{}
	}

	for _, id := range pending {
		if _, ok := wanted[id.FileName]; ok {
			continue
		}
		if err := r.repo.Delete(ctx, id); err != nil {
			level.Warn(logger).Log("msg", "can't drop stale upload record", "file_name", id.FileName, "err", err)
		}
	}
}

// apply stores every rendition of one file and records the outcome. It reports whether all of
// them were stored.
func (r *Reconciler) apply(ctx context.Context, logger log.Logger, owner domain.Owner, change domain.ImageChange, create bool, result *domain.ReconciliationResult) bool {
	ok := true

	for _, img := range change.Images {
		asset := domain.Asset{
			AssetID:     owner.Asset(img.FileName, img.Variant),
			ContentType: img.ContentType,
			ByteLength:  domain.UnknownLength,
		}

		stored, err := r.assets.PutAsset(ctx, asset, img.Body)
		if err == nil {
			err = r.repo.Save(ctx, domain.AssetRecord{Asset: stored, Stored: true, UpdatedAt: r.now()})
			if err != nil {
				err = fmt.Errorf("can't record stored asset: %w", err)
			}
		} else if create {
			// keep failed creates visible in the metadata store for a later retry
			if saveErr := r.repo.Save(ctx, domain.AssetRecord{Asset: asset, Stored: false, UpdatedAt: r.now()}); saveErr != nil {
				level.Warn(logger).Log("msg", "can't record failed upload", "file_name", img.FileName, "err", saveErr)
			}
		}

		if err != nil {
			ok = false
			result.Failures = append(result.Failures, domain.ItemFailure{
				FileName: img.FileName,
				Variant:  img.Variant,
				Kind:     domain.KindOf(err),
				Err:      err,
			})
			level.Error(logger).Log("msg", "can't store image",
				"file_name", img.FileName,
				"variant", img.Variant,
				"err", err,
			)
		}
	}

	return ok
}

func (r *Reconciler) forget(ctx context.Context, owner domain.Owner, fileName string) error {
	for _, variant := range domain.Variants {
		if err := r.repo.Delete(ctx, owner.Asset(fileName, variant)); err != nil {
			return err
		}
	}
	return nil
}

func closeImages(images []domain.DesiredImage) {
	for _, img := range images {
		if img.Body != nil {
			_ = img.Body.Close()
		}
	}
}

// onceCloser lets the reconciler close every body on exit without closing one that PutAsset
// already closed.
type onceCloser struct {
	io.ReadCloser
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() {
		c.err = c.ReadCloser.Close()
	})
	return c.err
}
