package manifest

import (
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	got, err := Parse([]string{" /a ", "", "/b", "/a", "/c?v=2"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"/a", "/b", "/c?v=2"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string][]string{
		"relative":     {"styles.css"},
		"scheme":       {"https://cdn.example/x.js"},
		"protocol-rel": {"//cdn.example/x.js"},
		"empty":        {"", "  "},
	}
	for name, entries := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(entries); err == nil {
				t.Fatalf("expected error for %v", entries)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	got, err := Parse(Default)
	if err != nil {
		t.Fatalf("default manifest: %v", err)
	}
	if !slices.Equal(got, Default) {
		t.Fatalf("default manifest changed by parse: %v", got)
	}
}
