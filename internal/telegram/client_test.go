package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitByBytes(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		max   int
		parts int
	}{
		{name: "short", text: "hello", max: 10, parts: 1},
		{name: "exact", text: "abcd", max: 4, parts: 1},
		{name: "ascii", text: strings.Repeat("a", 10), max: 4, parts: 3},
		{name: "multibyte", text: strings.Repeat("é", 5), max: 3, parts: 5},
		{name: "no limit", text: "anything", max: 0, parts: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitByBytes(tt.text, tt.max)
			if len(got) != tt.parts {
				t.Fatalf("parts = %d, want %d (%q)", len(got), tt.parts, got)
			}
			if strings.Join(got, "") != tt.text {
				t.Fatal("parts do not add up to the input")
			}
			for _, p := range got {
				if !utf8.ValidString(p) {
					t.Fatalf("part %q split a rune", p)
				}
				if tt.max > 0 && len(p) > tt.max && utf8.RuneCountInString(p) > 1 {
					t.Fatalf("part %q exceeds %d bytes", p, tt.max)
				}
			}
		})
	}
}

func TestTruncateByBytes(t *testing.T) {
	if got := truncateByBytes("pastel", 10); got != "pastel" {
		t.Fatalf("short = %q", got)
	}
	if got := truncateByBytes("pastel", 3); got != "pas" {
		t.Fatalf("ascii = %q", got)
	}
	if got := truncateByBytes("ééé", 5); got != "éé" {
		t.Fatalf("multibyte = %q", got)
	}
}

func TestInlineKeyboard(t *testing.T) {
	markup, ok := inlineKeyboard([][]Button{
		{{Text: "Retro", Data: "preset:retro"}, {Text: "Sketch", Data: "preset:sketch"}},
		{},
		{{Text: "Cyberpunk", Data: "preset:cyberpunk"}},
	})
	if !ok {
		t.Fatal("inlineKeyboard() = false")
	}
	if len(markup.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want 2", len(markup.InlineKeyboard))
	}
	btn := markup.InlineKeyboard[0][1]
	if btn.Text != "Sketch" || btn.CallbackData == nil || *btn.CallbackData != "preset:sketch" {
		t.Fatalf("button = %+v", btn)
	}

	if _, ok := inlineKeyboard(nil); ok {
		t.Fatal("empty keyboard reported ok")
	}
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"image/png":  ".png",
		"image/webp": ".webp",
		"image/jpeg": ".jpg",
		"image/heic": ".jpg",
	}
	for mimeType, want := range tests {
		if got := extensionFor(mimeType); got != want {
			t.Fatalf("extensionFor(%q) = %q, want %q", mimeType, got, want)
		}
	}
}
