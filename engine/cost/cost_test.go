package cost

import "testing"

func TestEstimate(t *testing.T) {
	tests := []struct {
		items int
		want  float64
	}{
		{0, 0.005},
		{-3, 0.005},
		{1, 0.01},
		{10, 0.055},
		{250, 1.255},
		{1000, 5.005},
		{3333, 16.67},
	}
	for _, tt := range tests {
		if got := Estimate(tt.items); got != tt.want {
			t.Errorf("Estimate(%d) = %v, want %v", tt.items, got, tt.want)
		}
	}
}
