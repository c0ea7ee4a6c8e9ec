package redis

import "testing"

func TestJoinKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"", []string{"snapshot", "cg_home_v1"}, "snapshot:cg_home_v1"},
		{"marketview", []string{"snapshot", "cg_detail_v2_bitcoin"}, "marketview:snapshot:cg_detail_v2_bitcoin"},
		{"mv", []string{"lock", "prefetch:cg_chart_7d_v1_eth"}, "mv:lock:prefetch:cg_chart_7d_v1_eth"},
		{"mv", nil, "mv"},
	}
	for _, tt := range tests {
		if got := joinKey(tt.prefix, tt.parts...); got != tt.want {
			t.Errorf("joinKey(%q, %v) = %q, want %q", tt.prefix, tt.parts, got, tt.want)
		}
	}
}

func TestHasPattern(t *testing.T) {
	tests := map[string]bool{
		"markets.refreshed": false,
		"markets.*":         true,
		"markets.?":         true,
		"markets.[ab]":      true,
	}
	for in, want := range tests {
		if got := hasPattern(in); got != want {
			t.Errorf("hasPattern(%q) = %v, want %v", in, got, want)
		}
	}
}
