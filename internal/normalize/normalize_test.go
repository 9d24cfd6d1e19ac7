package normalize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/tanyadata/tanya/internal/log"
)

type fakeGenerator struct {
	text string
	err  error
}

func (f fakeGenerator) Generate(context.Context, string) (string, *ai.GenerationUsage, error) {
	return f.text, nil, f.err
}

func TestNormalize(t *testing.T) {
	n := New(fakeGenerator{
		text: `{"mentions":[{"surface":"Bandung","kind":"district","tier":"Kota","name":"Bandung"}],"projectLocation":false}`,
	}, log.NewNop())

	got, err := n.Normalize(context.Background(), "projects in Bandung", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "projects in district Kota Bandung" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizeGeneratorError(t *testing.T) {
	n := New(fakeGenerator{err: errors.New("provider down")}, log.NewNop())

	if _, err := n.Normalize(context.Background(), "projects in Bandung", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestRewriteHintPrecedence(t *testing.T) {
	// A district named in the question wins; hints are never merged in.
	ext := extraction{Mentions: []Mention{
		{Surface: "Kab Bandung", Kind: "district", Tier: "Kab", Name: "Bandung"},
	}}

	got, err := rewrite("population in Kab Bandung", ext, []string{"Kab Sidoarjo"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Bandung") {
		t.Errorf("normalized query lost the question's district: %q", got)
	}
	if strings.Contains(got, "Sidoarjo") {
		t.Errorf("hint must not be merged when the question names a district: %q", got)
	}
}

func TestRewriteAppendsHintsWhenNoDistrict(t *testing.T) {
	got, err := rewrite("total population", extraction{}, []string{"Kab Sidoarjo", "Kota Surabaya"})
	if err != nil {
		t.Fatal(err)
	}
	want := "total population in district Kab Sidoarjo and district Kota Surabaya"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRewriteMacroRegionExpansion(t *testing.T) {
	ext := extraction{Mentions: []Mention{
		{Surface: "Kalimantan", Kind: "macro", Name: "Kalimantan"},
	}}

	got, err := rewrite("rainfall in Kalimantan", ext, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{
		"province Kalimantan Barat",
		"province Kalimantan Tengah",
		"province Kalimantan Selatan",
		"province Kalimantan Timur",
		"province Kalimantan Utara",
	} {
		if !strings.Contains(got, p) {
			t.Errorf("expansion missing %q: %q", p, got)
		}
	}
	if strings.Count(got, "province ") != 5 {
		t.Errorf("expected exactly 5 province phrases, got %q", got)
	}
}

func TestRewriteIdempotent(t *testing.T) {
	// Normalizing an already-normalized query leaves it unchanged: the
	// surface and the canonical phrase coincide.
	normalized := "population in district Kota Bandung"
	ext := extraction{Mentions: []Mention{
		{Surface: "district Kota Bandung", Kind: "district", Tier: "Kota", Name: "Bandung"},
	}}

	got, err := rewrite(normalized, ext, []string{"Kota Bandung"})
	if err != nil {
		t.Fatal(err)
	}
	if got != normalized {
		t.Errorf("got %q, want unchanged %q", got, normalized)
	}
}

func TestRewriteDualTierExpansion(t *testing.T) {
	// "Bandung" without a tier exists as both Kota and Kab.
	ext := extraction{Mentions: []Mention{
		{Surface: "Bandung", Kind: "district", Name: "Bandung"},
	}}

	got, err := rewrite("schools in Bandung", ext, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "district Kota Bandung") || !strings.Contains(got, "district Kab Bandung") {
		t.Errorf("tierless dual district must expand to both forms: %q", got)
	}
}

func TestRewriteProvinceNormalization(t *testing.T) {
	ext := extraction{Mentions: []Mention{
		{Surface: "jawa barat", Kind: "province", Name: "jawa barat"},
	}}

	got, err := rewrite("farms in jawa barat", ext, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "province Jawa Barat") {
		t.Errorf("province mention not normalized: %q", got)
	}
}

func TestRewriteUnlocatable(t *testing.T) {
	if _, err := rewrite("how many projects are there", extraction{}, nil); !errors.Is(err, ErrUnlocatable) {
		t.Fatalf("expected ErrUnlocatable, got %v", err)
	}

	// The "project location" special case maps to Unlocatable without hints.
	ext := extraction{ProjectLocation: true}
	if _, err := rewrite("rainfall at the project location", ext, nil); !errors.Is(err, ErrUnlocatable) {
		t.Fatalf("expected ErrUnlocatable for project-location question, got %v", err)
	}

	// With hints, the same question normalizes via the hints.
	got, err := rewrite("rainfall at the project location", ext, []string{"Kab Sidoarjo"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "district Kab Sidoarjo") {
		t.Errorf("hints should locate a project-location question: %q", got)
	}
}

func TestRewriteProjectLocationIgnoresRegionMentions(t *testing.T) {
	// A province mention next to "the project location" describes a
	// region, not the project's spot; without hints that is unlocatable.
	ext := extraction{
		ProjectLocation: true,
		Mentions: []Mention{
			{Surface: "Jawa Barat", Kind: "province", Name: "Jawa Barat"},
		},
	}

	if _, err := rewrite("is the project location in Jawa Barat", ext, nil); !errors.Is(err, ErrUnlocatable) {
		t.Fatalf("expected ErrUnlocatable, got %v", err)
	}

	// A district mention still wins: the model located the project.
	ext.Mentions = append(ext.Mentions,
		Mention{Surface: "Kota Bandung", Kind: "district", Tier: "Kota", Name: "Bandung"})
	if _, err := rewrite("is the project location Kota Bandung", ext, nil); err != nil {
		t.Fatalf("district mention must ground the question: %v", err)
	}
}

func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"plain json", `{"mentions":[],"projectLocation":false}`, false},
		{"fenced json", "```json\n{\"mentions\":[],\"projectLocation\":true}\n```", false},
		{"prose", "I found no locations in this question.", true},
		{"truncated", `{"mentions":[{"surface":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseExtraction(tt.raw)
			if tt.wantErr && !errors.Is(err, ErrMalformedExtraction) {
				t.Errorf("expected ErrMalformedExtraction, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
