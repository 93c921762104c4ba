package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/donmikel/assetstore/applications/assetstore/domain"
)

func stored(names ...string) []domain.Asset {
	assets := make([]domain.Asset, 0, len(names))
	for _, n := range names {
		assets = append(assets, domain.Asset{AssetID: productP100.Asset(n, "")})
	}
	return assets
}

func TestDiff(t *testing.T) {
	previous := append(stored("a.jpg", "b.jpg", "keep.jpg"), domain.Asset{AssetID: productP100.Asset("b.jpg", domain.VariantSmall)})
	newB, newC := newBody("b"), newBody("c")
	desired := []domain.DesiredImage{
		{FileName: "c.jpg", Body: newC},
		{FileName: "b.jpg", Body: newB},
		{FileName: "b.jpg", Variant: domain.VariantSmall},
		{FileName: "keep.jpg"},
	}
	desiredCopy := append([]domain.DesiredImage(nil), desired...)

	plan, err := Diff(previous, desired)
	require.NoError(t, err)

	require.Len(t, plan.ToCreate, 1)
	assert.Equal(t, "c.jpg", plan.ToCreate[0].FileName)
	assert.Equal(t, domain.VariantOriginal, plan.ToCreate[0].Images[0].Variant)

	require.Len(t, plan.ToUpdate, 1)
	assert.Equal(t, "b.jpg", plan.ToUpdate[0].FileName)
	require.Len(t, plan.ToUpdate[0].Images, 1, "variants without content are kept as they are")

	assert.Equal(t, []string{"a.jpg"}, plan.ToDelete)
	assert.Equal(t, []string{"keep.jpg"}, plan.Unchanged)
	assert.Equal(t, map[string]struct{}{"b.jpg": {}, "c.jpg": {}}, plan.Upserts())

	assert.Equal(t, desiredCopy, desired, "inputs must not be modified")
}

func TestDiffKeepsOrder(t *testing.T) {
	desired := []domain.DesiredImage{
		{FileName: "3.jpg", Body: newBody("3")},
		{FileName: "1.jpg", Body: newBody("1")},
		{FileName: "2.jpg", Body: newBody("2")},
	}

	plan, err := Diff(nil, desired)
	require.NoError(t, err)

	var names []string
	for _, c := range plan.ToCreate {
		names = append(names, c.FileName)
	}
	assert.Equal(t, []string{"3.jpg", "1.jpg", "2.jpg"}, names)
	assert.Empty(t, plan.ToDelete)
}

func TestDiffRejectsInvalidRequests(t *testing.T) {
	_, err := Diff(nil, []domain.DesiredImage{
		{FileName: "a.jpg", Body: newBody("1")},
		{FileName: "a.jpg", Variant: domain.VariantOriginal, Body: newBody("2")},
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateImage)

	_, err = Diff(nil, []domain.DesiredImage{{Body: newBody("1")}})
	assert.ErrorIs(t, err, domain.ErrInvalidKey)

	_, err = Diff(nil, []domain.DesiredImage{{FileName: "a.jpg", Variant: "huge"}})
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

func TestDiffEmptyDesiredDeletesEverything(t *testing.T) {
	plan, err := Diff(stored("b.jpg", "a.jpg"), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.jpg", "b.jpg"}, plan.ToDelete)
	assert.Empty(t, plan.ToCreate)
	assert.Empty(t, plan.ToUpdate)
}
