package emotion

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"hionago/internal/domain"
)

func testRoster() domain.Roster {
	return domain.Roster{
		Characters: []domain.Character{
			{ID: domain.CharHiori, Name: "Hiori"},
			{ID: domain.CharNagomu, Name: "Nagomu"},
		},
		Default: domain.CharHiori,
	}
}

func newTestResolver(t *testing.T, overrides map[domain.CharacterID]json.RawMessage, supplement string) *Resolver {
	t.Helper()
	r := NewResolver(slog.Default())
	suppPath := ""
	if supplement != "" {
		suppPath = filepath.Join(t.TempDir(), "supplement.json")
		if err := os.WriteFile(suppPath, []byte(supplement), 0o644); err != nil {
			t.Fatalf("write supplement: %v", err)
		}
	}
	r.Rebuild(testRoster(), overrides, suppPath)
	return r
}

func TestResolveDefaultFallback(t *testing.T) {
	r := newTestResolver(t, nil, "")
	if got := r.Resolve(domain.CharHiori, ""); got != "0.0" {
		t.Fatalf("empty tag resolved to %s, want 0.0", got)
	}
	if got := r.Resolve(domain.CharHiori, "zzz-unmatched-zzz"); got != "0.0" {
		t.Fatalf("unmatched tag resolved to %s, want 0.0", got)
	}
}

func TestResolveIdempotent(t *testing.T) {
	r := newTestResolver(t, nil, "")
	first := r.Resolve(domain.CharNagomu, "带着坏笑的调侃")
	second := r.Resolve(domain.CharNagomu, "带着坏笑的调侃")
	if first != second {
		t.Fatalf("resolution not idempotent: %s then %s", first, second)
	}
	if first != "2.0" {
		t.Fatalf("tag resolved to %s, want 2.0 (调侃, first match wins)", first)
	}
}

func TestResolveSubstringMatch(t *testing.T) {
	r := newTestResolver(t, nil, "")
	if got := r.Resolve(domain.CharHiori, "Very Happy Today"); got != "1.0" {
		t.Fatalf("substring match resolved to %s, want 1.0", got)
	}
}

func TestMergeUnionOnCollision(t *testing.T) {
	overrides := map[domain.CharacterID]json.RawMessage{
		domain.CharHiori: json.RawMessage(`{"1.0": ["delighted"]}`),
	}
	r := newTestResolver(t, overrides, "")

	// Both the default keyword and the override keyword must hit 1.0.
	if got := r.Resolve(domain.CharHiori, "smile"); got != "1.0" {
		t.Fatalf("default keyword resolved to %s, want 1.0", got)
	}
	if got := r.Resolve(domain.CharHiori, "delighted"); got != "1.0" {
		t.Fatalf("override keyword resolved to %s, want 1.0", got)
	}
	// The other character is unaffected.
	if got := r.Resolve(domain.CharNagomu, "delighted"); got != "0.0" {
		t.Fatalf("override leaked to other character: %s", got)
	}
}

func TestSupplementAddsNewCode(t *testing.T) {
	r := newTestResolver(t, nil, `{"9.9": ["newpose"], "1.0": ["beaming"]}`)
	if got := r.Resolve(domain.CharHiori, "newpose"); got != "9.9" {
		t.Fatalf("supplement code resolved to %s, want 9.9", got)
	}
	if got := r.Resolve(domain.CharNagomu, "beaming"); got != "1.0" {
		t.Fatalf("supplement union resolved to %s, want 1.0", got)
	}
}

func TestMalformedOverrideSkipped(t *testing.T) {
	overrides := map[domain.CharacterID]json.RawMessage{
		domain.CharHiori: json.RawMessage(`{"1.0": "not-a-list"`),
	}
	r := newTestResolver(t, overrides, "")
	// Defaults still work.
	if got := r.Resolve(domain.CharHiori, "smile"); got != "1.0" {
		t.Fatalf("defaults lost after malformed override: %s", got)
	}
}

func TestDefaultsComeBeforeOverrides(t *testing.T) {
	// "调侃" is a default keyword of 2.0; an override maps a brand-new
	// code to the same word. The default layer is inserted first, so it
	// must keep winning.
	overrides := map[domain.CharacterID]json.RawMessage{
		domain.CharNagomu: json.RawMessage(`{"77.0": ["调侃"]}`),
	}
	r := newTestResolver(t, overrides, "")
	if got := r.Resolve(domain.CharNagomu, "调侃"); got != "2.0" {
		t.Fatalf("resolved to %s, want 2.0 (defaults first)", got)
	}
}
