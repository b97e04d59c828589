package engine

import "strings"

// defaultStallWindow is how many consecutive identical assistant turns
// trigger a stall warning.
const defaultStallWindow = 2

// stallDetector flags a model that keeps producing the same output without
// calling any tools. Advisory only; it never terminates the run.
type stallDetector struct {
	window int
	recent []string
}

func newStallDetector(window int) *stallDetector {
	if window < defaultStallWindow {
		window = defaultStallWindow
	}
	return &stallDetector{window: window}
}

// Window returns the number of turns compared.
func (d *stallDetector) Window() int { return d.window }

// Observe records one assistant turn and reports whether the last window
// turns were identical after whitespace trimming with no tool calls made.
// A tool call resets the comparison window.
func (d *stallDetector) Observe(text string, toolCall bool) bool {
	if toolCall {
		d.recent = d.recent[:0]
		return false
	}

	d.recent = append(d.recent, strings.TrimSpace(text))
	if len(d.recent) > d.window {
		d.recent = d.recent[1:]
	}
	if len(d.recent) < d.window {
		return false
	}

	first := d.recent[0]
	if first == "" {
		return false
	}
	for _, t := range d.recent[1:] {
		if t != first {
			return false
		}
	}
	return true
}
