package sections

import "fmt"

// Preview truncates text to at most max runes, appending an ellipsis when
// anything was cut. Multi-byte text is never split mid-rune.
func Preview(text string, max int) string {
	if max <= 0 {
		return text
	}

	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	return string(runes[:max]) + "…"
}

// CapList bounds a list of rendered lines, replacing the overflow with a
// single "…and N more" line so the section keeps its structure without
// growing without bound.
func CapList(lines []string, max int) []string {
	if max <= 0 || len(lines) <= max {
		return lines
	}

	capped := make([]string, 0, max+1)
	capped = append(capped, lines[:max]...)
	capped = append(capped, fmt.Sprintf("…and %d more", len(lines)-max))
	return capped
}
