package yin

import "testing"

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"single", []float64{220}, 220},
		{"odd", []float64{330, 110, 220}, 220},
		{"even averages middle pair", []float64{230, 110, 220, 440}, 225},
		{"two", []float64{100, 200}, 150},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := median(tc.in); got != tc.want {
				t.Errorf("median(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
