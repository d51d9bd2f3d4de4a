package compliance

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frequency is a resolved dosing-frequency code. Degraded marks codes that
// were not recognized and fell back to once-daily; downstream rendering warns
// on it instead of treating the result as validated.
type Frequency struct {
	Code       string  `json:"code"`
	Multiplier float64 `json:"multiplier"`
	Degraded   bool    `json:"degraded,omitempty"`
}

// Catalog maps dosing-frequency codes to expected doses per day. Site-specific
// codes can be layered in from a yaml file; the compiled-in default covers the
// standard regimens.
type Catalog struct {
	Multipliers map[string]float64 `yaml:"multipliers" json:"multipliers"`
}

func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultCatalog(), err
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return Catalog{}, err
	}
	if len(cat.Multipliers) == 0 {
		return Catalog{}, fmt.Errorf("dosing frequency catalog empty")
	}
	return cat, nil
}

// Resolve looks a code up case-insensitively. Unrecognized codes resolve to
// the once-daily multiplier with the Degraded flag set; the fallback is never
// silently equivalent to a validated once-daily code.
func (c Catalog) Resolve(code string) Frequency {
	key := strings.ToLower(strings.TrimSpace(code))
	if c.Multipliers != nil {
		if multiplier, ok := c.Multipliers[key]; ok {
			return Frequency{Code: key, Multiplier: multiplier}
		}
	}
	return Frequency{Code: key, Multiplier: 1, Degraded: true}
}

func DefaultCatalog() Catalog {
	return Catalog{Multipliers: map[string]float64{
		"once_daily":        1,
		"twice_daily":       2,
		"three_times_daily": 3,
		"four_times_daily":  4,
		"weekly":            1.0 / 7.0,
		// Prescription shorthand used by some site exports.
		"qd":  1,
		"bid": 2,
		"tid": 3,
		"qid": 4,
		"qw":  1.0 / 7.0,
	}}
}
