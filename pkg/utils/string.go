package utils

// Truncate shortens s to at most max runes, appending an ellipsis when it
// cuts. Fragment content can hold multibyte text, so the cut is
// rune-aligned rather than byte-aligned.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
