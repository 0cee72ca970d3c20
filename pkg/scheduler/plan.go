package scheduler

import "math/rand"

// Plan is the ordered list of batch sizes for one run.
type Plan []int

// NewPlan partitions total items into batches. Each size is drawn uniformly
// from [min, max]; the last batch is cut to what remains and may be smaller
// than min, but is never empty. An invalid range yields no plan.
func NewPlan(total, min, max int, rng *rand.Rand) Plan {
	plan := Plan{}
	if min < 1 || max < min {
		return plan
	}
	for remaining := total; remaining > 0; {
		size := nextSize(rng, min, max, remaining)
		plan = append(plan, size)
		remaining -= size
	}
	return plan
}

// Ranges returns the [start, end) slice bounds of every batch.
func (p Plan) Ranges() [][2]int {
	ranges := make([][2]int, len(p))
	start := 0
	for i, size := range p {
		ranges[i] = [2]int{start, start + size}
		start += size
	}
	return ranges
}

func nextSize(rng *rand.Rand, min, max, remaining int) int {
	size := min + rng.Intn(max-min+1)
	if size > remaining {
		size = remaining
	}
	return size
}
