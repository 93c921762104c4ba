// Package keys derives storage keys from asset identities and parses them back.
//
// A key has four segments separated by "/":
//
//	<tenant>/<category>/<owner>/<file>
//
// Every segment is path-escaped, so "/" inside a name never creates an extra level and a segment
// can never be "." or "..". Size variants are encoded as a marker in front of the file segment
// rather than as a separate level: LARGE is "L-", SMALL is "S-" and ORIGINAL carries no marker.
// An ORIGINAL file whose name already starts with a marker is written as "O-<name>" so that
// Parse(Build(id)) == id holds for every valid identity.
package keys

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/donmikel/assetstore/applications/assetstore/domain"
)

const (
	Separator = "/"

	largeMarker    = "L-"
	smallMarker    = "S-"
	originalMarker = "O-"
)

var reservedMarkers = []string{largeMarker, smallMarker, originalMarker}

// Build returns the storage key for id.
func Build(id domain.AssetID) (string, error) {
	prefix, err := Prefix(id.Owner)
	if err != nil {
		return "", err
	}
	if id.FileName == "" {
		return "", fmt.Errorf("empty file name: %w", domain.ErrInvalidKey)
	}

	name := escape(id.FileName)
	switch id.Variant.OrDefault() {
	case domain.VariantLarge:
		name = largeMarker + name
	case domain.VariantSmall:
		name = smallMarker + name
	case domain.VariantOriginal:
		if hasReservedMarker(name) {
			name = originalMarker + name
		}
	default:
		return "", fmt.Errorf("unknown size variant %q: %w", id.Variant, domain.ErrInvalidKey)
	}

	return prefix + name, nil
}

// Prefix returns the key prefix shared by every asset of owner. It always ends with Separator,
// so the prefix of owner "P1" is not a prefix of any key of owner "P10".
func Prefix(owner domain.Owner) (string, error) {
	switch {
	case owner.TenantCode == "":
		return "", fmt.Errorf("empty tenant code: %w", domain.ErrInvalidKey)
	case !owner.Category.Valid():
		return "", fmt.Errorf("unknown content category %q: %w", owner.Category, domain.ErrInvalidKey)
	case owner.OwnerID == "":
		return "", fmt.Errorf("empty owner id: %w", domain.ErrInvalidKey)
	}

	return escape(owner.TenantCode) + Separator +
		string(owner.Category) + Separator +
		escape(owner.OwnerID) + Separator, nil
}

// Parse is the inverse of Build. Keys that were not produced by Build fail with
// domain.ErrInvalidKey, including alternative spellings of a valid key.
func Parse(key string) (domain.AssetID, error) {
	segments := strings.Split(key, Separator)
	if len(segments) != 4 {
		return domain.AssetID{}, fmt.Errorf("key %q: expected 4 segments, got %d: %w", key, len(segments), domain.ErrInvalidKey)
	}

	tenant, err := unescape(segments[0])
	if err != nil {
		return domain.AssetID{}, fmt.Errorf("key %q: tenant: %w", key, err)
	}

	category := domain.Category(segments[1])
	if !category.Valid() {
		return domain.AssetID{}, fmt.Errorf("key %q: unknown category: %w", key, domain.ErrInvalidKey)
	}

	ownerID, err := unescape(segments[2])
	if err != nil {
		return domain.AssetID{}, fmt.Errorf("key %q: owner: %w", key, err)
	}

	variant, name := splitVariant(segments[3])
	fileName, err := unescape(name)
	if err != nil {
		return domain.AssetID{}, fmt.Errorf("key %q: file name: %w", key, err)
	}

	id := domain.AssetID{
		Owner: domain.Owner{
			TenantCode: tenant,
			Category:   category,
			OwnerID:    ownerID,
		},
		FileName: fileName,
		Variant:  variant,
	}

	// Only the exact spelling Build produces is accepted. "O-abc" or "%61bc" would otherwise
	// alias the identity stored at "abc".
	if canonical, err := Build(id); err != nil || canonical != key {
		return domain.AssetID{}, fmt.Errorf("key %q: not in canonical form: %w", key, domain.ErrInvalidKey)
	}

	return id, nil
}

func splitVariant(segment string) (domain.SizeVariant, string) {
	switch {
	case strings.HasPrefix(segment, largeMarker):
		return domain.VariantLarge, segment[len(largeMarker):]
	case strings.HasPrefix(segment, smallMarker):
		return domain.VariantSmall, segment[len(smallMarker):]
	case strings.HasPrefix(segment, originalMarker):
		return domain.VariantOriginal, segment[len(originalMarker):]
	}
	return domain.VariantOriginal, segment
}

func hasReservedMarker(name string) bool {
	for _, m := range reservedMarkers {
		if strings.HasPrefix(name, m) {
			return true
		}
	}
	return false
}

func escape(segment string) string {
	escaped := url.PathEscape(segment)
	if strings.HasPrefix(escaped, ".") {
		escaped = "%2E" + escaped[1:]
	}
	return escaped
}

func unescape(segment string) (string, error) {
	if segment == "" {
		return "", fmt.Errorf("empty segment: %w", domain.ErrInvalidKey)
	}
	if strings.HasPrefix(segment, ".") {
		return "", fmt.Errorf("segment %q: %w", segment, domain.ErrInvalidKey)
	}

	s, err := url.PathUnescape(segment)
	if err != nil {
		return "", fmt.Errorf("segment %q: %v: %w", segment, err, domain.ErrInvalidKey)
	}
	return s, nil
}
