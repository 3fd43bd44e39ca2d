package dispatcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEWMA_FirstSampleIsExact(t *testing.T) {
	e := newEWMA(2000)
	e.addSample(2000, 512)
	assert.InDelta(t, 512.0, e.estimate(), 0.0001)
}

func TestEWMA_EmptyEstimateIsZero(t *testing.T) {
	e := newEWMA(2000)
	assert.Equal(t, 0.0, e.estimate())
}

func TestEWMA_StaysWithinSampleBounds(t *testing.T) {
	e := newEWMA(2000)
	samples := []float64{100, 500, 50, 900, 200}
	max := 0.0
	for _, v := range samples {
		e.addSample(1000, v)
		if v > max {
			max = v
		}
		est := e.estimate()
		assert.GreaterOrEqual(t, est, 0.0)
		assert.LessOrEqual(t, est, max)
	}
}
