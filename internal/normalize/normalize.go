// Package normalize implements the query normalizer: it rewrites a raw
// user question into canonical form using a fixed location-expansion
// grammar over Indonesian districts, provinces and macro-regions.
//
// The LLM is used only for what it is good at — spotting location
// mentions and fixing typos. It returns the mentions as strict JSON;
// the expansion grammar itself (tier handling, macro-region expansion,
// hint appending) is deterministic Go code in this package.
package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/tanyadata/tanya/internal/geo"
)

// Sentinel errors for normalization.
var (
	// ErrUnlocatable indicates the question names no district, no
	// province and no macro-region, and no district hints were given.
	// The pipeline cannot ground such a question geographically.
	ErrUnlocatable = errors.New("question names no location")

	// ErrMalformedExtraction indicates the provider returned output that
	// is not valid JSON. This is fatal for the turn, not a fallback.
	ErrMalformedExtraction = errors.New("malformed location extraction")
)

// Mention is one location reference found in the question.
type Mention struct {
	// Surface is the exact substring of the question that was matched,
	// including any typos the model corrected in Name.
	Surface string `json:"surface"`

	// Kind is "district", "province" or "macro".
	Kind string `json:"kind"`

	// Tier is "Kota", "Kab" or empty, for district mentions.
	Tier string `json:"tier,omitempty"`

	// Name is the canonical (typo-corrected) location name without tier.
	Name string `json:"name"`
}

// extraction is the strict JSON contract with the provider.
type extraction struct {
	Mentions []Mention `json:"mentions"`

	// ProjectLocation is true when the question asks about "the project
	// location" or similar instead of naming a place.
	ProjectLocation bool `json:"projectLocation"`
}

// generator is the slice of the llm client this package needs.
type generator interface {
	Generate(ctx context.Context, prompt string) (string, *ai.GenerationUsage, error)
}

// Normalizer rewrites raw questions into canonical located form.
type Normalizer struct {
	gen    generator
	logger *slog.Logger
}

// New creates a Normalizer on top of the given generator.
func New(gen generator, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{gen: gen, logger: logger}
}

const extractionPrompt = `You identify Indonesian administrative locations in a question.

Find every district (kabupaten/kota), province, and island macro-region
(%s) mentioned in the question below. Correct obvious spelling errors in
location names but keep tier prefixes ("Kab"/"Kota") as written. For each
mention report the EXACT substring of the question ("surface") and the
corrected canonical name.

Respond with ONLY this JSON, no commentary:
{"mentions":[{"surface":"...","kind":"district|province|macro","tier":"Kota|Kab|","name":"..."}],"projectLocation":false}

Set "projectLocation" to true if the question refers to the project's own
location instead of naming a place.

Question: %s`

// Normalize rewrites question into canonical form. districtHints are
// used only when the question itself names no district.
func (n *Normalizer) Normalize(ctx context.Context, question string, districtHints []string) (string, error) {
	prompt := fmt.Sprintf(extractionPrompt,
		strings.Join(geo.MacroRegionNames(), ", "), question)

	raw, _, err := n.gen.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("location extraction: %w", err)
	}

	ext, err := parseExtraction(raw)
	if err != nil {
		return "", err
	}

	normalized, err := rewrite(question, ext, districtHints)
	if err != nil {
		return "", err
	}

	n.logger.Debug("normalized query",
		"mentions", len(ext.Mentions),
		"hints", len(districtHints))
	return normalized, nil
}

// parseExtraction parses the provider's JSON output. A fenced code
// block is tolerated; anything that is not JSON is a hard error.
func parseExtraction(raw string) (extraction, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var ext extraction
	if err := json.Unmarshal([]byte(cleaned), &ext); err != nil {
		return extraction{}, fmt.Errorf("%w: %w", ErrMalformedExtraction, err)
	}
	return ext, nil
}

// rewrite applies the fixed location-expansion grammar.
func rewrite(question string, ext extraction, districtHints []string) (string, error) {
	var hasDistrict, hasLocation bool
	for _, m := range ext.Mentions {
		switch m.Kind {
		case "district":
			hasDistrict = true
			hasLocation = true
		case "province", "macro":
			hasLocation = true
		}
	}

	// A question about "the project location" is grounded only by the
	// caller's district hints: a province or macro-region mentioned
	// alongside it describes a region, not the project's own spot.
	if ext.ProjectLocation && !hasDistrict && len(districtHints) == 0 {
		return "", ErrUnlocatable
	}

	if !hasLocation && len(districtHints) == 0 {
		return "", ErrUnlocatable
	}

	out := question
	for _, m := range ext.Mentions {
		phrase := canonicalPhrase(m)
		if phrase == "" || m.Surface == "" {
			continue
		}
		out = strings.Replace(out, m.Surface, phrase, 1)
	}

	// Hints apply only when the question itself names no district;
	// a question district always wins and hints are never merged in.
	if !hasDistrict && len(districtHints) > 0 {
		phrases := make([]string, 0, len(districtHints))
		for _, hint := range districtHints {
			tier, name := geo.ParseTier(hint)
			phrases = append(phrases, geo.DistrictPhrase(tier, name))
		}
		out = out + " in " + geo.JoinPhrases(phrases)
	}

	return out, nil
}

// canonicalPhrase renders one mention in normalized form.
func canonicalPhrase(m Mention) string {
	switch m.Kind {
	case "district":
		tier := geo.Tier(m.Tier)
		if tier == "" && geo.HasBothTiers(m.Name) {
			// A tierless name that exists as both a city and a regency
			// expands to both administrative forms.
			return geo.JoinPhrases([]string{
				geo.DistrictPhrase(geo.TierKota, m.Name),
				geo.DistrictPhrase(geo.TierKab, m.Name),
			})
		}
		return geo.DistrictPhrase(tier, m.Name)

	case "province":
		name := m.Name
		if canonical, ok := geo.IsProvince(name); ok {
			name = canonical
		}
		return geo.ProvincePhrase(name)

	case "macro":
		provinces, ok := geo.MacroProvinces(m.Name)
		if !ok {
			// Unrecognized macro-region: treat as a province mention.
			return geo.ProvincePhrase(m.Name)
		}
		phrases := make([]string, len(provinces))
		for i, p := range provinces {
			phrases[i] = geo.ProvincePhrase(p)
		}
		return geo.JoinPhrases(phrases)

	default:
		return ""
	}
}
