package engine

import "testing"

// The narrowing quantization must behave as true floor/ceil across the zero
// price level; truncating division would round toward zero on the wrong side.
func TestFloorToSpacing(t *testing.T) {
	tests := []struct {
		v, spacing, want int64
	}{
		{155, 10, 150},
		{150, 10, 150},
		{9, 10, 0},
		{0, 10, 0},
		{-1, 10, -10},
		{-9, 10, -10},
		{-10, 10, -10},
		{-11, 10, -20},
		{-155, 10, -160},
		{7, 3, 6},
		{-7, 3, -9},
	}
	for _, tt := range tests {
		if got := FloorToSpacing(tt.v, tt.spacing); got != tt.want {
			t.Errorf("FloorToSpacing(%d, %d) = %d, want %d", tt.v, tt.spacing, got, tt.want)
		}
	}
}

func TestCeilToSpacing(t *testing.T) {
	tests := []struct {
		v, spacing, want int64
	}{
		{155, 10, 160},
		{150, 10, 150},
		{1, 10, 10},
		{0, 10, 0},
		{-1, 10, 0},
		{-9, 10, 0},
		{-10, 10, -10},
		{-11, 10, -10},
		{-155, 10, -150},
		{7, 3, 9},
		{-7, 3, -6},
	}
	for _, tt := range tests {
		if got := CeilToSpacing(tt.v, tt.spacing); got != tt.want {
			t.Errorf("CeilToSpacing(%d, %d) = %d, want %d", tt.v, tt.spacing, got, tt.want)
		}
	}
}
