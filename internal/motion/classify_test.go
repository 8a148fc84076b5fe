package motion

import (
	"math"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		x, y, z float64
		want    string
	}{
		{0, 0, 0, "stable"},
		{0.5, -0.5, 0.5, "stable"},
		{0.51, 0, 0, "tilting_forward"},
		{-0.6, 0, 0, "tilting_backward"},
		{0, 0.7, 0, "rolling_right"},
		{0, -0.7, 0, "rolling_left"},
		{0, 0, 1, "turning_right"},
		{0, 0, -1, "turning_left"},
		{0.6, -0.6, 0, "tilting_forward_rolling_left"},
		{0.6, 0, -0.6, "tilting_forward_turning_left"},
		{-0.6, 0.6, 0.6, "tilting_backward_rolling_right_turning_right"},
		{math.NaN(), 0.9, 0, "rolling_right"},
	}
	for _, tc := range cases {
		if got := Classify(tc.x, tc.y, tc.z); got != tc.want {
			t.Fatalf("Classify(%v, %v, %v) = %q, want %q", tc.x, tc.y, tc.z, got, tc.want)
		}
	}
}

func TestIntensity(t *testing.T) {
	cases := []struct {
		x, y, z float64
		want    Level
	}{
		{0, 0, 0, Low},
		{0.3, 0.3, 0.3, Medium},
		{1, 1, 1, Medium},
		{2, 0, 0, High},
	}
	for _, tc := range cases {
		if got := Intensity(tc.x, tc.y, tc.z); got != tc.want {
			t.Fatalf("Intensity(%v, %v, %v) = %q, want %q", tc.x, tc.y, tc.z, got, tc.want)
		}
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(0, 0, 0); got != "Device Stable" {
		t.Fatalf("got %q", got)
	}
	if got := Describe(0.8, 0.8, 0); got != "Tilting Forward Rolling Right" {
		t.Fatalf("got %q", got)
	}
}
