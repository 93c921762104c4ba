package domain

import (
	"fmt"
	"io"
	"strings"
	"time"
)

type Category string

const (
	CategoryProductImage     Category = "product-image"
	CategoryDownload         Category = "download"
	CategoryManufacturerLogo Category = "manufacturer-logo"
	CategoryProductFile      Category = "product-file"
)

var categories = []Category{
	CategoryProductImage,
	CategoryDownload,
	CategoryManufacturerLogo,
	CategoryProductFile,
}

// ParseCategory accepts both the key form ("product-image") and the enum form ("PRODUCT_IMAGE").
func ParseCategory(s string) (Category, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for _, c := range categories {
		if string(c) == normalized {
			return c, nil
		}
	}

	return "", fmt.Errorf("unknown content category %q: %w", s, ErrInvalidKey)
}

func (c Category) Valid() bool {
	for _, known := range categories {
		if c == known {
			return true
		}
	}
	return false
}

type SizeVariant string

const (
	VariantOriginal SizeVariant = "original"
	VariantLarge    SizeVariant = "large"
	VariantSmall    SizeVariant = "small"
)

// Variants lists every size variant a file can be materialized in.
var Variants = []SizeVariant{VariantOriginal, VariantLarge, VariantSmall}

// ParseSizeVariant treats an empty string as VariantOriginal.
func ParseSizeVariant(s string) (SizeVariant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(VariantOriginal):
		return VariantOriginal, nil
	case string(VariantLarge):
		return VariantLarge, nil
	case string(VariantSmall):
		return VariantSmall, nil
	}

	return "", fmt.Errorf("unknown size variant %q: %w", s, ErrInvalidKey)
}

// OrDefault returns VariantOriginal for the zero value.
func (v SizeVariant) OrDefault() SizeVariant {
	if v == "" {
		return VariantOriginal
	}
	return v
}

// Owner is the "folder" every asset of one catalog entity lives in.
type Owner struct {
	TenantCode string
	Category   Category
	OwnerID    string
}

func (o Owner) String() string {
	return fmt.Sprintf("%s/%s/%s", o.TenantCode, o.Category, o.OwnerID)
}

// AssetID is the identity tuple of one physical asset.
type AssetID struct {
	Owner
	FileName string
	Variant  SizeVariant
}

func (o Owner) Asset(fileName string, variant SizeVariant) AssetID {
	return AssetID{Owner: o, FileName: fileName, Variant: variant.OrDefault()}
}

const UnknownLength int64 = -1

type Asset struct {
	AssetID
	ContentType string
	ByteLength  int64
}

// Rendition is one pre-generated size variant of a file to be stored.
type Rendition struct {
	Variant     SizeVariant
	ContentType string
	Body        io.ReadCloser
}

// AssetRecord is the metadata row kept for an asset outside of the storage backend.
type AssetRecord struct {
	Asset     Asset
	Key       string
	Stored    bool
	UpdatedAt time.Time
}
