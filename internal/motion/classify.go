// Package motion turns angular-velocity samples into movement labels.
package motion

import (
	"math"
	"strings"
)

// Threshold is the per-axis angular velocity (rad/s) above which an axis
// counts as moving.
const Threshold = 0.5

const Stable = "stable"

// Classify returns the movement label for one sample. Axes are checked in
// x, y, z order and their descriptors joined with "_". Strict comparison: an
// axis at exactly Threshold does not count. NaN never exceeds it.
func Classify(x, y, z float64) string {
	parts := make([]string, 0, 3)
	if math.Abs(x) > Threshold {
		parts = append(parts, pick(x, "tilting_forward", "tilting_backward"))
	}
	if math.Abs(y) > Threshold {
		parts = append(parts, pick(y, "rolling_right", "rolling_left"))
	}
	if math.Abs(z) > Threshold {
		parts = append(parts, pick(z, "turning_right", "turning_left"))
	}
	if len(parts) == 0 {
		return Stable
	}
	return strings.Join(parts, "_")
}

func pick(v float64, pos, neg string) string {
	if v > 0 {
		return pos
	}
	return neg
}

type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

// Intensity grades the magnitude of the angular velocity vector.
func Intensity(x, y, z float64) Level {
	m := math.Sqrt(x*x + y*y + z*z)
	switch {
	case m < 0.5:
		return Low
	case m < 2.0:
		return Medium
	default:
		return High
	}
}

// Describe renders a label for display, e.g. "Tilting Forward Rolling Right".
func Describe(x, y, z float64) string {
	label := Classify(x, y, z)
	if label == Stable {
		return "Device Stable"
	}
	words := strings.Split(label, "_")
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
