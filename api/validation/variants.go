package validation

import (
	"fmt"

	"mediaPipeline/api/apperrors"
	"mediaPipeline/api/models"
)

// Variants rejects an empty or unknown request and collapses duplicates,
// keeping first-seen order.
func Variants(in []models.Variant) ([]models.Variant, error) {
	if len(in) == 0 {
		return nil, apperrors.Validation("validate_variants", ErrNoVariants)
	}

	seen := make(map[models.Variant]bool, len(in))
	out := make([]models.Variant, 0, len(in))
	for _, v := range in {
		if _, ok := models.ContainerDetails[v.Container]; !ok {
			return nil, apperrors.Validation("validate_variants",
				fmt.Errorf("%w: container %q", ErrUnsupportedVariant, v.Container))
		}
		if _, ok := models.ProfileDetails[v.Profile]; !ok {
			return nil, apperrors.Validation("validate_variants",
				fmt.Errorf("%w: profile %q", ErrUnsupportedVariant, v.Profile))
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}
