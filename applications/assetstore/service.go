package assetstore

import (
	"context"
	"io"
	"iter"

	"github.com/donmikel/assetstore/applications/assetstore/domain"
)

type AssetService interface {
	PutAsset(ctx context.Context, asset domain.Asset, body io.ReadCloser) (domain.Asset, error)
	PutRenditions(ctx context.Context, asset domain.Asset, renditions []domain.Rendition) ([]domain.Asset, error)
	GetAsset(ctx context.Context, id domain.AssetID) (io.ReadCloser, error)
	ListAssets(ctx context.Context, owner domain.Owner) iter.Seq2[domain.Asset, error]
	DeleteAsset(ctx context.Context, owner domain.Owner, fileName string) error
	DeleteAllForOwner(ctx context.Context, owner domain.Owner) error
}

type ImageReconciler interface {
	Reconcile(ctx context.Context, req domain.SaveRequest) (domain.ReconciliationResult, error)
}
