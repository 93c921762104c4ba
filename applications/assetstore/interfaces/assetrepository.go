package interfaces

import (
	"context"

	"github.com/donmikel/assetstore/applications/assetstore/domain"
)

type AssetRepository interface {
	ListByOwner(ctx context.Context, owner domain.Owner) ([]domain.AssetRecord, error)
	Save(ctx context.Context, record domain.AssetRecord) error
	Delete(ctx context.Context, id domain.AssetID) error
}
