package provider

import "strings"

// ParseGearName splits a provider gear label into its display name and the
// human-assigned code written in square brackets, as in "Speedgoat 5 [SG5]".
// Labels without a code return an empty code.
func ParseGearName(label string) (name, code string) {
	label = strings.TrimSpace(label)
	open := strings.LastIndex(label, "[")
	if open < 0 || !strings.HasSuffix(label, "]") {
		return label, ""
	}

	code = strings.ToUpper(strings.TrimSpace(label[open+1 : len(label)-1]))
	name = strings.TrimSpace(label[:open])
	if code == "" {
		return name, ""
	}
	if name == "" {
		name = code
	}
	return name, code
}
