package lavago

import "strings"

// foldKey case-folds a string for duplicate/dedup comparisons.
func foldKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizePresetName lowercases and strips dashes/spaces, used for
// filter-preset lookups (e.g. "Bass Boost", "bass-boost", "bassboost"
// all resolve the same key).
func normalizePresetName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "")
	name = strings.ReplaceAll(name, " ", "")
	name = strings.ReplaceAll(name, "_", "")
	return name
}
