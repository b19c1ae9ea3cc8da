package engine

// Price quantization for partial-fill range narrowing. The narrowed edge is
// the current price rounded toward the side the move already travelled
// through: down for rising orders, up for falling ones. Native integer
// division truncates toward zero, which rounds the wrong way for negative
// prices on the floor side and positive prices on the ceil side, so both
// helpers are explicit about direction.

// FloorToSpacing rounds v down to the nearest multiple of spacing.
func FloorToSpacing(v, spacing int64) int64 {
	q := v / spacing
	if v%spacing != 0 && v < 0 {
		q--
	}
	return q * spacing
}

// CeilToSpacing rounds v up to the nearest multiple of spacing.
func CeilToSpacing(v, spacing int64) int64 {
	q := v / spacing
	if v%spacing != 0 && v > 0 {
		q++
	}
	return q * spacing
}
