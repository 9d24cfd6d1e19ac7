// Package geo provides the Indonesian administrative gazetteer used by
// query normalization: province names, macro-region expansion, and the
// district tier system ("Kab" for regencies, "Kota" for cities).
//
// All lookups are case-insensitive and pure; the package performs no I/O.
package geo

import (
	"sort"
	"strings"
)

// Tier identifies the administrative tier of a district.
type Tier string

const (
	// TierKota marks a city-level district.
	TierKota Tier = "Kota"

	// TierKab marks a regency-level district.
	TierKab Tier = "Kab"
)

// Provinces lists all 38 Indonesian provinces in canonical spelling.
var Provinces = []string{
	"Aceh", "Sumatera Utara", "Sumatera Barat", "Riau", "Kepulauan Riau",
	"Jambi", "Sumatera Selatan", "Kepulauan Bangka Belitung", "Bengkulu", "Lampung",
	"Banten", "DKI Jakarta", "Jawa Barat", "Jawa Tengah", "DI Yogyakarta", "Jawa Timur",
	"Bali", "Nusa Tenggara Barat", "Nusa Tenggara Timur",
	"Kalimantan Barat", "Kalimantan Tengah", "Kalimantan Selatan", "Kalimantan Timur", "Kalimantan Utara",
	"Sulawesi Utara", "Gorontalo", "Sulawesi Tengah", "Sulawesi Barat", "Sulawesi Selatan", "Sulawesi Tenggara",
	"Maluku", "Maluku Utara",
	"Papua", "Papua Barat", "Papua Tengah", "Papua Pegunungan", "Papua Selatan", "Papua Barat Daya",
}

// macroRegions maps informal island/region groupings to their exhaustive
// member-province lists. Keys are lowercase; aliases share one slice.
var macroRegions = map[string][]string{
	"kalimantan": {
		"Kalimantan Barat", "Kalimantan Tengah", "Kalimantan Selatan",
		"Kalimantan Timur", "Kalimantan Utara",
	},
	"jawa": {
		"Banten", "DKI Jakarta", "Jawa Barat", "Jawa Tengah",
		"DI Yogyakarta", "Jawa Timur",
	},
	"sumatra": {
		"Aceh", "Sumatera Utara", "Sumatera Barat", "Riau", "Kepulauan Riau",
		"Jambi", "Sumatera Selatan", "Kepulauan Bangka Belitung", "Bengkulu", "Lampung",
	},
	"sulawesi": {
		"Sulawesi Utara", "Gorontalo", "Sulawesi Tengah", "Sulawesi Barat",
		"Sulawesi Selatan", "Sulawesi Tenggara",
	},
	"papua": {
		"Papua", "Papua Barat", "Papua Tengah", "Papua Pegunungan",
		"Papua Selatan", "Papua Barat Daya",
	},
	"nusa tenggara": {
		"Nusa Tenggara Barat", "Nusa Tenggara Timur",
	},
	"maluku": {
		"Maluku", "Maluku Utara",
	},
}

// macroAliases maps alternate spellings to canonical macro-region keys.
var macroAliases = map[string]string{
	"java":         "jawa",
	"sumatera":     "sumatra",
	"borneo":       "kalimantan",
	"celebes":      "sulawesi",
	"the moluccas": "maluku",
}

// dualTierDistricts holds district names that exist administratively as
// both a city (Kota) and a regency (Kab). A tierless mention of one of
// these must expand to both forms.
var dualTierDistricts = map[string]struct{}{
	"bandung": {}, "bekasi": {}, "bogor": {}, "cirebon": {}, "sukabumi": {},
	"tasikmalaya": {}, "tangerang": {}, "serang": {}, "semarang": {},
	"magelang": {}, "pekalongan": {}, "tegal": {}, "kediri": {},
	"malang": {}, "madiun": {}, "mojokerto": {}, "pasuruan": {},
	"probolinggo": {}, "blitar": {}, "solok": {}, "bima": {},
	"gorontalo": {}, "jayapura": {}, "sorong": {}, "ternate": {},
	"banjar": {}, "kupang": {}, "palopo": {},
}

// MacroProvinces returns the exhaustive member-province list for a
// macro-region name, or ok=false if the name is not a recognized
// macro-region. Lookup is case-insensitive and alias-aware.
func MacroProvinces(name string) ([]string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := macroAliases[key]; ok {
		key = canonical
	}
	provinces, ok := macroRegions[key]
	if !ok {
		return nil, false
	}
	out := make([]string, len(provinces))
	copy(out, provinces)
	return out, true
}

// IsProvince reports whether name matches a province (case-insensitive).
// The canonical spelling is returned when matched.
func IsProvince(name string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, p := range Provinces {
		if strings.ToLower(p) == needle {
			return p, true
		}
	}
	return "", false
}

// HasBothTiers reports whether a district name exists as both a city
// and a regency.
func HasBothTiers(name string) bool {
	_, ok := dualTierDistricts[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// ParseTier extracts a tier prefix from a district string such as
// "Kab Sidoarjo" or "Kota Bandung". When no tier prefix is present the
// full string is returned as the name with an empty tier.
func ParseTier(s string) (Tier, string) {
	trimmed := strings.TrimSpace(s)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "kota "):
		return TierKota, strings.TrimSpace(trimmed[len("kota "):])
	case strings.HasPrefix(lower, "kab. "):
		return TierKab, strings.TrimSpace(trimmed[len("kab. "):])
	case strings.HasPrefix(lower, "kab "):
		return TierKab, strings.TrimSpace(trimmed[len("kab "):])
	case strings.HasPrefix(lower, "kabupaten "):
		return TierKab, strings.TrimSpace(trimmed[len("kabupaten "):])
	default:
		return "", trimmed
	}
}

// DistrictPhrase formats a district in canonical normalized form,
// e.g. "district Kota Bandung". An empty tier yields "district Bandung".
func DistrictPhrase(tier Tier, name string) string {
	if tier == "" {
		return "district " + name
	}
	return "district " + string(tier) + " " + name
}

// ProvincePhrase formats a province in canonical normalized form,
// e.g. "province Jawa Barat".
func ProvincePhrase(name string) string {
	return "province " + name
}

// JoinPhrases joins location phrases with commas and "and" before the
// last element: "a", "a and b", "a, b and c".
func JoinPhrases(phrases []string) string {
	switch len(phrases) {
	case 0:
		return ""
	case 1:
		return phrases[0]
	default:
		return strings.Join(phrases[:len(phrases)-1], ", ") + " and " + phrases[len(phrases)-1]
	}
}

// MacroRegionNames returns the recognized macro-region keys in sorted
// order, for prompt construction.
func MacroRegionNames() []string {
	names := make([]string, 0, len(macroRegions))
	for k := range macroRegions {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
