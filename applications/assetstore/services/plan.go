package services

import (
	"fmt"
	"sort"

	"github.com/donmikel/assetstore/applications/assetstore/domain"
)

// Diff partitions desired against the previously stored assets. Images are matched by file
// name only. Neither input is modified; the plan holds copies of the desired entries.
func Diff(previous []domain.Asset, desired []domain.DesiredImage) (domain.ReconciliationPlan, error) {
	stored := make(map[string]struct{}, len(previous))
	for _, a := range previous {
		stored[a.FileName] = struct{}{}
	}

	type variantKey struct {
		name    string
		variant domain.SizeVariant
	}
	seen := make(map[variantKey]struct{}, len(desired))
	groups := make(map[string]int, len(desired))
	changes := make([]domain.ImageChange, 0, len(desired))

	for _, img := range desired {
		if img.FileName == "" {
			return domain.ReconciliationPlan{}, fmt.Errorf("image without file name: %w", domain.ErrInvalidKey)
		}
		variant, err := domain.ParseSizeVariant(string(img.Variant))
		if err != nil {
			return domain.ReconciliationPlan{}, fmt.Errorf("image %q: %w", img.FileName, err)
		}
		img.Variant = variant

		vk := variantKey{name: img.FileName, variant: variant}
		if _, dup := seen[vk]; dup {
			return domain.ReconciliationPlan{}, fmt.Errorf("image %q (%s): %w", img.FileName, variant, domain.ErrDuplicateImage)
		}
		seen[vk] = struct{}{}

		i, ok := groups[img.FileName]
		if !ok {
			i = len(changes)
			groups[img.FileName] = i
			changes = append(changes, domain.ImageChange{FileName: img.FileName})
		}
		changes[i].Images = append(changes[i].Images, img)
	}

	var plan domain.ReconciliationPlan
	for _, change := range changes {
		if _, ok := stored[change.FileName]; !ok {
			plan.ToCreate = append(plan.ToCreate, change)
			continue
		}

		withContent := domain.ImageChange{FileName: change.FileName}
		for _, img := range change.Images {
			if img.Body != nil {
				withContent.Images = append(withContent.Images, img)
			}
		}
		if len(withContent.Images) == 0 {
			plan.Unchanged = append(plan.Unchanged, change.FileName)
			continue
		}
		plan.ToUpdate = append(plan.ToUpdate, withContent)
	}

	for name := range stored {
		if _, ok := groups[name]; !ok {
			plan.ToDelete = append(plan.ToDelete, name)
		}
	}
	sort.Strings(plan.ToDelete)

	return plan, nil
}
