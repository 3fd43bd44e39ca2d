package requester

// priorityBuckets are the distance thresholds (seconds) separating
// priority levels; a segment whose start lands exactly on a threshold
// falls into the next (lower-priority) bucket, since comparisons are
// strict "<".
var priorityBuckets = [...]float64{2, 4, 8, 12, 18, 25}

// highestPriority is the level assigned to init segments and any segment
// request lacking a start time.
const highestPriority = -1

// priorityFor buckets the distance between a segment's start time and the
// base position. A nil startTime (init segment, or unknown start) always
// gets highestPriority.
func priorityFor(basePosition, startTime *float64) int {
	if startTime == nil {
		return highestPriority
	}
	if basePosition == nil {
		return highestPriority
	}
	d := *startTime - *basePosition
	if d < 0 {
		d = -d
	}
	for i, threshold := range priorityBuckets {
		if d < threshold {
			return i
		}
	}
	return len(priorityBuckets)
}
