// Package badgerrepo keeps asset metadata records in an embedded badger database.
package badgerrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/donmikel/assetstore/applications/assetstore/domain"
	"github.com/donmikel/assetstore/applications/assetstore/interfaces"
	"github.com/donmikel/assetstore/applications/assetstore/keys"
)

const recordPrefix = "asset/"

type record struct {
	TenantCode  string    `json:"tenant_code"`
	Category    string    `json:"category"`
	OwnerID     string    `json:"owner_id"`
	FileName    string    `json:"file_name"`
	Variant     string    `json:"variant"`
	ContentType string    `json:"content_type"`
	ByteLength  int64     `json:"byte_length"`
	Key         string    `json:"key"`
	Stored      bool      `json:"stored"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Repository is an AssetRepository backed by badger. Close must be called on shutdown.
type Repository struct {
	db  *badger.DB
	log log.Logger
}

var _ interfaces.AssetRepository = (*Repository)(nil)

// Open opens (or creates) the database in dir. An empty dir keeps the database in memory.
func Open(dir string, logger log.Logger) (*Repository, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger: logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("can't open badger database: %w", err)
	}

	return &Repository{db: db, log: logger}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) ListByOwner(ctx context.Context, owner domain.Owner) ([]domain.AssetRecord, error) {
	prefix, err := keys.Prefix(owner)
	if err != nil {
		return nil, fmt.Errorf("can't build owner prefix: %w", err)
	}
	dbPrefix := []byte(recordPrefix + prefix)

	result := make([]domain.AssetRecord, 0)
	err = r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = dbPrefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(dbPrefix); it.ValidForPrefix(dbPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var rec record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("can't decode record %q: %w", it.Item().Key(), err)
			}
			result = append(result, rec.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("can't list records: %w", err)
	}

	return result, nil
}

func (r *Repository) Save(ctx context.Context, rec domain.AssetRecord) error {
	key, err := keys.Build(rec.Asset.AssetID)
	if err != nil {
		return fmt.Errorf("can't build record key: %w", err)
	}
	rec.Key = key

	value, err := json.Marshal(fromDomain(rec))
	if err != nil {
		return fmt.Errorf("can't encode record: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(recordPrefix+key), value)
	})
	if err != nil {
		return fmt.Errorf("can't save record: %w", err)
	}

	return nil
}

func (r *Repository) Delete(ctx context.Context, id domain.AssetID) error {
	key, err := keys.Build(id)
	if err != nil {
		return fmt.Errorf("can't build record key: %w", err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(recordPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("can't delete record: %w", err)
	}

	return nil
}

func fromDomain(rec domain.AssetRecord) record {
	return record{
		TenantCode:  rec.Asset.TenantCode,
		Category:    string(rec.Asset.Category),
		OwnerID:     rec.Asset.OwnerID,
		FileName:    rec.Asset.FileName,
		Variant:     string(rec.Asset.Variant.OrDefault()),
		ContentType: rec.Asset.ContentType,
		ByteLength:  rec.Asset.ByteLength,
		Key:         rec.Key,
		Stored:      rec.Stored,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func (r record) toDomain() domain.AssetRecord {
	return domain.AssetRecord{
		Asset: domain.Asset{
			AssetID: domain.AssetID{
				Owner: domain.Owner{
					TenantCode: r.TenantCode,
					Category:   domain.Category(r.Category),
					OwnerID:    r.OwnerID,
				},
				FileName: r.FileName,
				Variant:  domain.SizeVariant(r.Variant),
			},
			ContentType: r.ContentType,
			ByteLength:  r.ByteLength,
		},
		Key:       r.Key,
		Stored:    r.Stored,
		UpdatedAt: r.UpdatedAt,
	}
}

// badgerLogger routes badger's printf style logging into go-kit.
type badgerLogger struct {
	logger log.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	level.Error(l.logger).Log("msg", fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	level.Warn(l.logger).Log("msg", fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	level.Debug(l.logger).Log("msg", fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	level.Debug(l.logger).Log("msg", fmt.Sprintf(format, args...), "component", "badger")
}
