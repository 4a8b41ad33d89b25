package provider

import "testing"

func TestParseGearName(t *testing.T) {
	tests := []struct {
		label, name, code string
	}{
		{"Speedgoat 5 [SG5]", "Speedgoat 5", "SG5"},
		{"Cascadia 17 [c17]", "Cascadia 17", "C17"},
		{"  Trek Domane  ", "Trek Domane", ""},
		{"[ROAD1]", "ROAD1", "ROAD1"},
		{"Old shoes []", "Old shoes", ""},
		{"Pair [A] spare [B]", "Pair [A] spare", "B"},
		{"Brackets [inside] name", "Brackets [inside] name", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		name, code := ParseGearName(tt.label)
		if name != tt.name || code != tt.code {
			t.Errorf("ParseGearName(%q) = (%q, %q), want (%q, %q)", tt.label, name, code, tt.name, tt.code)
		}
	}
}
