package features

import (
	"strings"

	"github.com/platinummonkey/featurestore/pkg/apperrors"
)

// Wildcard is the feature name meaning "every feature in the category"
const Wildcard = "*"

// ParseFeatureList groups "category:feature" entries by category, keeping
// categories in first-seen order. A "category:*" entry overrides any
// explicit features requested for the same category.
func ParseFeatureList(entries []string) ([]CategorySelection, error) {
	if len(entries) == 0 {
		return nil, apperrors.Validation("feature_list cannot be empty")
	}

	type group struct {
		wildcard bool
		keys     []string
	}
	order := make([]string, 0, len(entries))
	groups := make(map[string]*group, len(entries))

	for _, entry := range entries {
		category, feature, ok := strings.Cut(strings.TrimSpace(entry), ":")
		category = strings.TrimSpace(category)
		feature = strings.TrimSpace(feature)
		if !ok || category == "" || feature == "" {
			return nil, apperrors.Validationf("invalid feature selector '%s': must be 'category:feature' or 'category:*'", entry)
		}

		g, seen := groups[category]
		if !seen {
			g = &group{}
			groups[category] = g
			order = append(order, category)
		}
		if feature == Wildcard {
			g.wildcard = true
			continue
		}
		g.keys = append(g.keys, feature)
	}

	selections := make([]CategorySelection, 0, len(order))
	for _, category := range order {
		g := groups[category]
		sel := AllFeatures()
		if !g.wildcard {
			sel = FeatureKeys(g.keys...)
		}
		selections = append(selections, CategorySelection{Category: category, Selector: sel})
	}
	return selections, nil
}
