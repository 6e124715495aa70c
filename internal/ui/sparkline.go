package ui

import "strings"

// sparkChars are eight bar heights, lowest first.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps the last N throughput samples and draws them as bars.
type Sparkline struct {
	samples []float64
	size    int
}

// NewSparkline creates a sparkline holding up to size samples.
func NewSparkline(size int) *Sparkline {
	if size <= 0 {
		size = 60
	}
	return &Sparkline{size: size}
}

// Add appends a sample, dropping the oldest when full.
func (s *Sparkline) Add(v float64) {
	if v < 0 {
		v = 0
	}
	s.samples = append(s.samples, v)
	if len(s.samples) > s.size {
		s.samples = s.samples[len(s.samples)-s.size:]
	}
}

// Len returns the number of samples held.
func (s *Sparkline) Len() int {
	return len(s.samples)
}

// Clear drops all samples.
func (s *Sparkline) Clear() {
	s.samples = s.samples[:0]
}

// Render draws the most recent width samples, scaled to the largest of them.
// Missing samples are padded with spaces on the left.
func (s *Sparkline) Render(width int) string {
	if width <= 0 {
		width = s.size
	}
	window := s.samples
	if len(window) > width {
		window = window[len(window)-width:]
	}

	peak := 0.0
	for _, v := range window {
		if v > peak {
			peak = v
		}
	}

	var sb strings.Builder
	sb.Grow(width * 3)
	sb.WriteString(strings.Repeat(" ", width-len(window)))
	for _, v := range window {
		idx := 0
		if peak > 0 {
			idx = int(v / peak * float64(len(sparkChars)-1))
		}
		sb.WriteRune(sparkChars[idx])
	}
	return sb.String()
}
