package keys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/assetstore/applications/assetstore/domain"
)

func owner(id string) domain.Owner {
	return domain.Owner{TenantCode: "T1", Category: domain.CategoryProductImage, OwnerID: id}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name string
		id   domain.AssetID
		want string
	}{
		{"original", owner("P100").Asset("front.jpg", domain.VariantOriginal), "T1/product-image/P100/front.jpg"},
		{"default variant", owner("P100").Asset("front.jpg", ""), "T1/product-image/P100/front.jpg"},
		{"large", owner("P100").Asset("front.jpg", domain.VariantLarge), "T1/product-image/P100/L-front.jpg"},
		{"small", owner("P100").Asset("front.jpg", domain.VariantSmall), "T1/product-image/P100/S-front.jpg"},
		{"reserved original", owner("P100").Asset("L-front.jpg", domain.VariantOriginal), "T1/product-image/P100/O-L-front.jpg"},
		{"slash in name", owner("P100").Asset("a/b.jpg", domain.VariantOriginal), "T1/product-image/P100/a%2Fb.jpg"},
		{"dot dot owner", owner("..").Asset("x", domain.VariantOriginal), "T1/product-image/%2E./x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Build(tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildInvalid(t *testing.T) {
	_, err := Build(domain.AssetID{Owner: owner("P1")})
	assert.ErrorIs(t, err, domain.ErrInvalidKey)

	_, err = Build(domain.Owner{TenantCode: "T1", Category: "nope", OwnerID: "P1"}.Asset("a", ""))
	assert.ErrorIs(t, err, domain.ErrInvalidKey)

	_, err = Prefix(domain.Owner{Category: domain.CategoryDownload, OwnerID: "P1"})
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

func TestRoundTrip(t *testing.T) {
	names := []string{
		"front.jpg", "L-front.jpg", "S-", "O-O-x", "l-lower.png", "a/b/c.png",
		".hidden", "..", "100%.png", "with space.jpg", "ünïcødé.jpg", "%2F",
	}
	owners := []string{"P100", "P/1", ".", "a b"}

	for _, o := range owners {
		for _, name := range names {
			for _, v := range domain.Variants {
				id := domain.Owner{TenantCode: "T/1", Category: domain.CategoryDownload, OwnerID: o}.Asset(name, v)

				key, err := Build(id)
				require.NoError(t, err)
				assert.Len(t, strings.Split(key, Separator), 4, key)

				got, err := Parse(key)
				require.NoError(t, err, key)
				assert.Equal(t, id, got, key)
			}
		}
	}
}

func TestPrefixContainment(t *testing.T) {
	p1, err := Prefix(owner("P1"))
	require.NoError(t, err)

	key, err := Build(owner("P10").Asset("front.jpg", domain.VariantOriginal))
	require.NoError(t, err)

	assert.False(t, strings.HasPrefix(key, p1))
	assert.True(t, strings.HasSuffix(p1, Separator))
}

func TestParseInvalid(t *testing.T) {
	for _, key := range []string{
		"",
		"T1/product-image/P1",
		"T1/product-image/P1/a/b",
		"T1/unknown/P1/a",
		"T1/product-image/P1/.upload-123",
		"T1/product-image/P1/L-",
		"T1/product-image/P1/%zz",
		"/product-image/P1/a",
		"T1/product-image/P1/O-abc",
		"T1/product-image/P1/%61bc",
		"T1/product-image/P1/L-%61bc",
		"T%31/product-image/P1/abc",
	} {
		_, err := Parse(key)
		assert.ErrorIs(t, err, domain.ErrInvalidKey, key)
	}
}
