package cmd

import (
	"strings"
	"testing"

	"github.com/ryoh/typerank/internal/typing"
)

func TestParseSeedFile(t *testing.T) {
	data := []byte(`
prompts:
  - language: romaji
    display_text: "私はプログラマーです"
    typing_target: "watashihapuroguramadesu"
    tags: [basic, nihongo]
  - language: english
    display_text: "the quick brown fox"
  - language: kana
    display_text: "こんにちは"
    is_active: false
`)

	prompts, err := parseSeedFile(data)
	if err != nil {
		t.Fatalf("parseSeedFile failed: %v", err)
	}
	if len(prompts) != 3 {
		t.Fatalf("expected 3 prompts, got %d", len(prompts))
	}

	if prompts[0].Language != typing.LanguageRomaji {
		t.Errorf("unexpected language: %s", prompts[0].Language)
	}
	if prompts[0].TypingTarget != "watashihapuroguramadesu" {
		t.Errorf("unexpected target: %s", prompts[0].TypingTarget)
	}
	if len(prompts[0].Tags) != 2 {
		t.Errorf("expected 2 tags, got %d", len(prompts[0].Tags))
	}

	// typing_target defaults to display_text
	if prompts[1].TypingTarget != "the quick brown fox" {
		t.Errorf("target should default to display text, got %q", prompts[1].TypingTarget)
	}

	// is_active defaults to true and honors an explicit false
	if !prompts[0].IsActive || !prompts[1].IsActive {
		t.Error("is_active should default to true")
	}
	if prompts[2].IsActive {
		t.Error("explicit is_active: false should be honored")
	}
}

func TestParseSeedFile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		contains string
	}{
		{"empty file", "", "no prompts"},
		{"no prompts key", "other: 1", "no prompts"},
		{"malformed yaml", "prompts: [", "failed to parse"},
		{"missing display text", "prompts:\n  - language: romaji", "display_text is required"},
		{"unknown language", "prompts:\n  - language: klingon\n    display_text: x", `unknown language "klingon"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSeedFile([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("error %q should contain %q", err.Error(), tt.contains)
			}
		})
	}
}

func TestParseSeedFile_ReportsEntryIndex(t *testing.T) {
	data := []byte(`
prompts:
  - language: english
    display_text: ok
  - language: english
`)
	_, err := parseSeedFile(data)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "prompt 2:") {
		t.Errorf("error should name the failing entry, got %q", err.Error())
	}
}
