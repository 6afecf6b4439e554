package script

import (
	"log/slog"
	"testing"

	"hionago/internal/domain"
)

func testParser() *Parser {
	aliases := map[string]domain.CharacterID{
		"Hiori":  domain.CharHiori,
		"Nagomu": domain.CharNagomu,
		"小日":     domain.CharHiori,
	}
	resolve := func(label string) (domain.CharacterID, bool) {
		id, ok := aliases[label]
		return id, ok
	}
	return NewParser(resolve, domain.CharHiori, slog.Default())
}

func TestParseEmbeddedArrayIgnoresProse(t *testing.T) {
	p := testParser()
	raw := `Here you go: [{"speaker":"A","emotion":"happy","ja":"hi","zh":"嗨"}] thanks`
	lines := p.Parse(raw)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].SpeechText != "hi" || lines[0].DisplayText != "嗨" {
		t.Fatalf("texts = %q / %q", lines[0].SpeechText, lines[0].DisplayText)
	}
	if lines[0].RawEmotion != "happy" {
		t.Fatalf("emotion = %q", lines[0].RawEmotion)
	}
}

func TestParseNoArrayYieldsEmpty(t *testing.T) {
	p := testParser()
	if lines := p.Parse("すみません、今日は答えられません。"); len(lines) != 0 {
		t.Fatalf("got %d lines, want 0", len(lines))
	}
	if lines := p.Parse(""); len(lines) != 0 {
		t.Fatalf("empty input: got %d lines, want 0", len(lines))
	}
}

func TestParseDecodeFailureYieldsEmpty(t *testing.T) {
	p := testParser()
	if lines := p.Parse(`[{"speaker": }]`); len(lines) != 0 {
		t.Fatalf("got %d lines, want 0", len(lines))
	}
}

func TestMissingFieldsDefault(t *testing.T) {
	p := testParser()
	lines := p.Parse(`[{"speaker":"Hiori"}]`)
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	if lines[0].RawEmotion != "normal" {
		t.Fatalf("emotion = %q, want normal", lines[0].RawEmotion)
	}
	if lines[0].SpeechText != "" || lines[0].DisplayText != "" {
		t.Fatalf("texts not empty: %q / %q", lines[0].SpeechText, lines[0].DisplayText)
	}
}

func TestBracketStrippingPerChannel(t *testing.T) {
	speech := CleanText("(笑)こんにちは(手を振る)", true, "")
	if speech != "こんにちは" {
		t.Fatalf("speech = %q, want こんにちは", speech)
	}
	display := CleanText("(笑)こんにちは(手を振る)", false, "")
	if display != "(笑)こんにちは(手を振る)" {
		t.Fatalf("display = %q, stage directions must survive", display)
	}
}

func TestFullWidthBrackets(t *testing.T) {
	speech := CleanText("【ため息】やれやれ（苦笑）", true, "")
	if speech != "やれやれ" {
		t.Fatalf("speech = %q, want やれやれ", speech)
	}
}

func TestPipeFallback(t *testing.T) {
	// Primary empty: both channels fall back to the pipe-delimited alt.
	speech := CleanText("", true, "おはよう|早上好")
	if speech != "おはよう" {
		t.Fatalf("speech fallback = %q, want おはよう", speech)
	}
	display := CleanText("", false, "おはよう|早上好")
	if display != "早上好" {
		t.Fatalf("display fallback = %q, want 早上好", display)
	}
}

func TestPipeSplitInPrimary(t *testing.T) {
	speech := CleanText("おはよう｜早上好", true, "")
	if speech != "おはよう" {
		t.Fatalf("speech = %q, want おはよう", speech)
	}
	display := CleanText("おはよう｜早上好", false, "")
	if display != "早上好" {
		t.Fatalf("display = %q, want 早上好", display)
	}
}

func TestDisplayHonorificNormalized(t *testing.T) {
	if got := CleanText("(微笑)阿和先生，别急", false, ""); got != "(微笑)阿和，别急" {
		t.Fatalf("display = %q, want 阿和先生 rewritten", got)
	}
}

func TestNamePrefixStripped(t *testing.T) {
	if got := CleanText("日织：おはよう", true, ""); got != "おはよう" {
		t.Fatalf("got %q, want おはよう", got)
	}
}

func TestSpeakerIdentificationLayers(t *testing.T) {
	p := testParser()
	cases := []struct {
		name string
		raw  string
		want domain.CharacterID
	}{
		{"alias table", `[{"speaker":"小日","ja":"x","zh":"x"}]`, domain.CharHiori},
		{"label keyword", `[{"speaker":"阿和さん","ja":"x","zh":"x"}]`, domain.CharNagomu},
		{"label keyword latin", `[{"speaker":"NAGOMU-san","ja":"x","zh":"x"}]`, domain.CharNagomu},
		// The line addresses 阿和, so the speaker must be the other one.
		{"content inference", `[{"speaker":"??","ja":"阿和、見て","zh":"x"}]`, domain.CharHiori},
		{"content inference reverse", `[{"speaker":"??","ja":"日織はどこ","zh":"x"}]`, domain.CharNagomu},
		{"fallback", `[{"speaker":"??","ja":"ok","zh":"ok"}]`, domain.CharHiori},
	}
	for _, tc := range cases {
		lines := p.Parse(tc.raw)
		if len(lines) != 1 {
			t.Fatalf("%s: got %d lines", tc.name, len(lines))
		}
		if lines[0].Speaker != tc.want {
			t.Fatalf("%s: speaker = %s, want %s", tc.name, lines[0].Speaker, tc.want)
		}
	}
}
