package rubric

import (
	"strings"

	"github.com/fairyhunter13/fellowship-scoring-engine/internal/domain"
)

// Resolver normalizes an arbitrary incoming question identifier (plus an
// optional free-text question label and applicant stage) into the canonical
// catalog key. Deterministic and side-effect free.
type Resolver struct {
	catalog *Catalog
}

// NewResolver constructs a Resolver bound to a loaded catalog.
func NewResolver(c *Catalog) *Resolver { return &Resolver{catalog: c} }

// Resolve applies three tiers in order: exact canonical match, the fixed
// alias table, then a normalized form of the question text. When the
// applicant is early_revenue and a stage variant exists for the resolved
// base key, the variant is substituted. The false return is the "no rubric
// available" signal; callers skip the question rather than failing the batch.
func (r *Resolver) Resolve(rawID, questionText string, stage domain.ApplicantStage) (Key, bool) {
	base, ok := r.resolveBase(rawID, questionText)
	if !ok {
		return "", false
	}
	if stage == domain.StageEarlyRevenue {
		if variant, has := stageVariants[base]; has && r.catalog.Has(variant) {
			return variant, true
		}
	}
	return base, true
}

func (r *Resolver) resolveBase(rawID, questionText string) (Key, bool) {
	id := strings.ToLower(strings.TrimSpace(rawID))

	// Tier 1: the raw id is already canonical.
	if r.catalog.Has(Key(id)) {
		return Key(id), true
	}
	// Tier 2: fixed alias table. Aliases are stored lower-cased with and
	// without separators so camelCase ids land after lower-casing.
	if k, ok := aliases[id]; ok {
		return k, true
	}
	if k, ok := aliases[NormalizeText(id)]; ok {
		return k, true
	}
	// Tier 3: normalized question label text.
	if questionText != "" {
		if k, ok := textKeys[NormalizeText(questionText)]; ok {
			return k, true
		}
	}
	return "", false
}

// NormalizeText lower-cases s and collapses every run of non-alphanumeric
// characters into a single underscore, trimming leading/trailing ones.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevUnderscore := true // swallow leading separators
	for _, c := range strings.ToLower(s) {
		alnum := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
		if alnum {
			b.WriteRune(c)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
