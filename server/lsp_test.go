package server

import (
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

const doc = `; count down
new-int 'n 3
loop:
    calc-sub n 1
    jumpif @loop
`

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		text string
		pos  protocol.Position
		want string
	}{
		{"calc-a", protocol.Position{Line: 0, Character: 6}, "calc-a"},
		{"new-int 1\nop-eq", protocol.Position{Line: 1, Character: 5}, "op-eq"},
		{"jump @lo", protocol.Position{Line: 0, Character: 8}, "@lo"},
		{"hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"", protocol.Position{Line: 0, Character: 0}, ""},
		{"single line", protocol.Position{Line: 5, Character: 0}, ""},
	}
	for _, tt := range tests {
		if got := extractPrefix(tt.text, tt.pos); got != tt.want {
			t.Errorf("extractPrefix(%q, %v) = %q, want %q", tt.text, tt.pos, got, tt.want)
		}
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		pos  protocol.Position
		want string
	}{
		{protocol.Position{Line: 1, Character: 2}, "new-int"},
		{protocol.Position{Line: 4, Character: 14}, "@loop"},
		{protocol.Position{Line: 4, Character: 4}, "jumpif"},
		{protocol.Position{Line: 2, Character: 5}, ""},
	}
	for _, tt := range tests {
		if got := extractWord(doc, tt.pos); got != tt.want {
			t.Errorf("extractWord(%v) = %q, want %q", tt.pos, got, tt.want)
		}
	}
}

func TestCompleteMnemonics(t *testing.T) {
	items := complete(doc, "calc-b")
	labels := make(map[string]bool)
	for _, it := range items {
		labels[it.Label] = true
		if it.Detail == nil || !strings.HasPrefix(*it.Detail, it.Label) {
			t.Errorf("item %s has detail %v", it.Label, it.Detail)
		}
	}
	if len(items) != 4 || !labels["calc-band"] || !labels["calc-bxor"] {
		t.Errorf("completions = %v, want the four bitwise ops", labels)
	}
}

func TestCompleteLabels(t *testing.T) {
	items := complete(doc, "@l")
	if len(items) != 1 || items[0].Label != "@loop" {
		t.Errorf("label completions = %v", items)
	}
}

func TestHover(t *testing.T) {
	h := hover(doc, "calc-add")
	if h == nil {
		t.Fatal("no hover for calc-add")
	}
	text := h.Contents.(protocol.MarkupContent).Value
	if !strings.Contains(text, "**calc-add** (calc)") {
		t.Errorf("hover = %q", text)
	}

	h = hover(doc, "@loop")
	if h == nil || !strings.Contains(h.Contents.(protocol.MarkupContent).Value, "line 3") {
		t.Errorf("label hover = %v", h)
	}
	if hover(doc, "n") != nil {
		t.Error("hover for a variable")
	}
}

func TestLabelLines(t *testing.T) {
	lines := labelLines(doc + "lambda:\n    return-void\nend: ; trailing\n")
	if lines["loop"] != 2 {
		t.Errorf("loop on line %d, want 2", lines["loop"])
	}
	if _, ok := lines["lambda"]; ok {
		t.Error("lambda header taken for a label")
	}
	if lines["end"] != 7 {
		t.Errorf("end on line %d, want 7", lines["end"])
	}
}

func TestDiagnostics(t *testing.T) {
	if d := diagnostics(doc); len(d) != 0 {
		t.Errorf("diagnostics for a valid document: %v", d)
	}
	d := diagnostics("new-int 1\n  bogus\n")
	if len(d) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(d))
	}
	if d[0].Range.Start.Line != 1 {
		t.Errorf("diagnostic on line %d, want 1", d[0].Range.Start.Line)
	}
}
