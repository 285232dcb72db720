package experiment

// Downsample decimates results to at most maxPoints evenly spaced steps for a
// coarse view of the curve. The first and last steps are always kept.
// dst is reused when it has enough capacity.
func Downsample(dst, results []StepResult, maxPoints int) []StepResult {
	if maxPoints <= 0 {
		return dst[:0]
	}

	n := min(len(results), maxPoints)
	if cap(dst) >= n {
		dst = dst[:0]
	} else {
		dst = make([]StepResult, 0, n)
	}

	if len(results) <= maxPoints {
		return append(dst, results...)
	}
	if maxPoints == 1 {
		return append(dst, results[len(results)-1])
	}

	step := float64(len(results)-1) / float64(maxPoints-1)
	for i := range maxPoints {
		dst = append(dst, results[int(float64(i)*step+0.5)])
	}
	return dst
}
