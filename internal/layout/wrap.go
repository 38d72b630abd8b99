// Package layout provides the pure geometry used by the post renderer:
// greedy word wrapping and aspect-preserving image fitting.
package layout

import "strings"

// MeasureFunc returns the rendered width of s in pixels.
type MeasureFunc func(s string) float64

// Wrap breaks text into lines no wider than maxWidth as reported by measure.
//
// Explicit newlines are hard breaks: every source line is wrapped on its own
// and an empty source line yields an empty output line. Within a source line
// words are separated by single spaces and accumulated greedily. A word that
// is wider than maxWidth on its own is placed on its own line and allowed to
// overflow; words are never split.
func Wrap(text string, maxWidth float64, measure MeasureFunc) []string {
	units := strings.Split(text, "\n")
	lines := make([]string, 0, len(units))

	for _, unit := range units {
		words := strings.Split(unit, " ")
		current := ""

		for _, word := range words {
			candidate := word
			if current != "" {
				candidate = current + " " + word
			}

			if measure(candidate) > maxWidth && current != "" {
				lines = append(lines, current)
				current = word
				continue
			}
			current = candidate
		}

		lines = append(lines, current)
	}

	return lines
}
