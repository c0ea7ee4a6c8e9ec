package service

import (
	"slices"
	"testing"
)

func TestCompareSetToggle(t *testing.T) {
	var c CompareSet

	steps := []struct {
		toggle string
		want   []string
	}{
		{"bitcoin", []string{"bitcoin"}},
		{"ethereum", []string{"bitcoin", "ethereum"}},
		{"solana", []string{"ethereum", "solana"}},
		{"ethereum", []string{"solana"}},
		{"", []string{"solana"}},
		{"solana", []string{}},
	}
	for _, s := range steps {
		got := c.Toggle(s.toggle)
		if !slices.Equal(got, s.want) {
			t.Errorf("Toggle(%q) = %v, want %v", s.toggle, got, s.want)
		}
	}
}

func TestCompareSetIDsIsCopy(t *testing.T) {
	var c CompareSet
	c.Toggle("bitcoin")
	ids := c.IDs()
	ids[0] = "mutated"
	if c.IDs()[0] != "bitcoin" {
		t.Error("IDs must return a copy")
	}
	c.Clear()
	if len(c.IDs()) != 0 {
		t.Error("Clear left ids behind")
	}
}
