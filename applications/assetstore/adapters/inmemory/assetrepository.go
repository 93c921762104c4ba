package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
	"github.com/donmikel/assetstore/applications/assetstore/keys"
)

type inMemoryAssetRepository struct {
	records map[string]domain.AssetRecord
	mutex   sync.RWMutex
}

func NewAssetRepository() interfaces.AssetRepository {
	return &inMemoryAssetRepository{
		records: map[string]domain.AssetRecord{},
	}
}

func (i *inMemoryAssetRepository) ListByOwner(ctx context.Context, owner domain.Owner) ([]domain.AssetRecord, error) {
	prefix, err := keys.Prefix(owner)
	if err != nil {
		return nil, fmt.Errorf("can't build owner prefix: %w", err)
	}

	i.mutex.RLock()
	defer i.mutex.RUnlock()

	result := make([]domain.AssetRecord, 0)
	for key, record := range i.records {
		if strings.HasPrefix(key, prefix) {
			result = append(result, record)
		}
	}

	sort.Slice(result, func(a, b int) bool {
		return result[a].Key < result[b].Key
	})

	return result, nil
}

func (i *inMemoryAssetRepository) Save(ctx context.Context, record domain.AssetRecord) error {
	key, err := keys.Build(record.Asset.AssetID)
	if err != nil {
		return fmt.Errorf("can't build record key: %w", err)
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	record.Key = key
	i.records[key] = record

	return nil
}

func (i *inMemoryAssetRepository) Delete(ctx context.Context, id domain.AssetID) error {
	key, err := keys.Build(id)
	if err != nil {
		return fmt.Errorf("can't build record key: %w", err)
	}

	i.mutex.Lock()
	defer i.mutex.Unlock()

	delete(i.records, key)

	return nil
}
