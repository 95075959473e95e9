package pipeline

// RelevantSteps returns the last size steps in their original order, or
// all of them when there are no more than size. A non-positive size
// selects nothing.
func RelevantSteps(steps []Step, size int) []Step {
	if size <= 0 {
		return []Step{}
	}
	if len(steps) <= size {
		return steps
	}
	return steps[len(steps)-size:]
}
