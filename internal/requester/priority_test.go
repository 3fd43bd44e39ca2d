package requester

import "testing"

import "github.com/stretchr/testify/assert"

func TestPriorityFor_NoStartTime_IsHighest(t *testing.T) {
	base := 10.0
	assert.Equal(t, highestPriority, priorityFor(&base, nil))
}

func TestPriorityFor_NoBasePosition_IsHighest(t *testing.T) {
	start := 10.0
	assert.Equal(t, highestPriority, priorityFor(nil, &start))
}

func TestPriorityFor_ExactThresholdFallsToLowerBucket(t *testing.T) {
	base := 0.0
	at2 := 2.0
	below2 := 1.999
	assert.Equal(t, priorityFor(&base, &below2), priorityFor(&base, &below2))
	assert.NotEqual(t, priorityFor(&base, &below2), priorityFor(&base, &at2))
	assert.Equal(t, 0, priorityFor(&base, &below2))
	assert.Equal(t, 1, priorityFor(&base, &at2))
}

func TestPriorityFor_BeyondAllBuckets(t *testing.T) {
	base := 0.0
	far := 100.0
	assert.Equal(t, len(priorityBuckets), priorityFor(&base, &far))
}
