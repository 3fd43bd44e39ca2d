package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avalon-stream/hlsplay/internal/host"
)

type fakeSink struct {
	mu      sync.Mutex
	elapsed []host.TimerID
}

func (f *fakeSink) OnRequestSucceeded(host.RequestID, []byte, string, int64, float64) {}
func (f *fakeSink) OnRequestFailed(host.RequestID, bool, *int)                        {}
func (f *fakeSink) OnTimerElapsed(id host.TimerID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elapsed = append(f.elapsed, id)
}
func (f *fakeSink) OnCodecSupportUpdate()               {}
func (f *fakeSink) OnObservation(host.MediaObservation) {}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.elapsed)
}

func TestStart_FiresOnTimerElapsed(t *testing.T) {
	sink := &fakeSink{}
	s := New(sink)

	id := s.Start(5*time.Millisecond, host.TimerReasonRetryRequest)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, id, sink.elapsed[0])
}

func TestClear_PreventsCallback(t *testing.T) {
	sink := &fakeSink{}
	s := New(sink)

	id := s.Start(20*time.Millisecond, host.TimerReasonMediaPlaylistRefresh)
	s.Clear(id)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, sink.count())
}

func TestStart_EachCallGetsADistinctID(t *testing.T) {
	sink := &fakeSink{}
	s := New(sink)

	a := s.Start(time.Hour, host.TimerReasonRetryRequest)
	b := s.Start(time.Hour, host.TimerReasonRetryRequest)
	assert.NotEqual(t, a, b)

	s.Clear(a)
	s.Clear(b)
}
