package requester

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avalon-stream/hlsplay/internal/host"
)

type fakeFetcher struct {
	calls   int
	lastURL string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ *host.ByteRange, _ time.Duration) host.RequestID {
	f.calls++
	f.lastURL = url
	return host.RequestID(url)
}
func (f *fakeFetcher) Abort(host.RequestID) {}

type fakeTimers struct {
	started []time.Duration
	nextID  int
}

func (t *fakeTimers) Start(d time.Duration, _ host.TimerReason) host.TimerID {
	t.started = append(t.started, d)
	t.nextID++
	return host.TimerID(string(rune('a' + t.nextID)))
}
func (t *fakeTimers) Clear(host.TimerID) {}

type fixedRandom struct{ v float64 }

func (f fixedRandom) Float64() float64 { return f.v }

func newTestRequester() (*Requester, *fakeFetcher, *fakeTimers) {
	f := &fakeFetcher{}
	tm := &fakeTimers{}
	r := New(f, tm, fixedRandom{v: 0.5}, Config{
		PlaylistTimeout: time.Second,
		SegmentTimeout:  time.Second,
		RetryBase:       500 * time.Millisecond,
		RetryMax:        8 * time.Second,
	})
	return r, f, tm
}

func TestRequestMediaSegment_IssuesImmediatelyWhenUnset(t *testing.T) {
	r, f, _ := newTestRequester()
	id, issued := r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeVideo, URL: "seg1.mp4"})
	assert.True(t, issued)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, f.calls)
}

func TestRequestMediaSegment_QueuesSecondOfSameType(t *testing.T) {
	r, _, _ := newTestRequester()
	base := 0.0
	r.UpdateBasePosition(&base)
	t1 := 1.0
	_, issued1 := r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeVideo, URL: "seg1.mp4", TimeInfo: &TimeInfo{Start: t1}})
	require.True(t, issued1)

	t2 := 2.0
	_, issued2 := r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeVideo, URL: "seg2.mp4", TimeInfo: &TimeInfo{Start: t2}})
	assert.False(t, issued2)
	assert.Len(t, r.waiting, 1)
}

func TestAdmits_GatesOnPendingPriorityAcrossTypes(t *testing.T) {
	r, _, _ := newTestRequester()
	base := 0.0
	r.UpdateBasePosition(&base)

	// An urgent video segment right at the base position goes straight
	// to pending.
	_, issued := r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeVideo, URL: "v1.mp4", TimeInfo: &TimeInfo{Start: 0}})
	require.True(t, issued)

	// A distant audio segment is a different media type and nothing is
	// waiting, but it must still defer to the more urgent pending video
	// request instead of slipping through uncontested.
	_, issued2 := r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeAudio, URL: "a1.mp4", TimeInfo: &TimeInfo{Start: 30}})
	assert.False(t, issued2)
	require.Len(t, r.waiting, 1)
}

func TestFlushWaiting_OnlyReleasesAtOrAbovePendingPriority(t *testing.T) {
	r, f, _ := newTestRequester()
	base := 0.0
	r.UpdateBasePosition(&base)

	_, issued := r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeVideo, URL: "v1.mp4", TimeInfo: &TimeInfo{Start: 0}})
	require.True(t, issued)
	callsAfterFirst := f.calls

	r.Lock()
	// Queued while locked: one distant audio request (low priority), while
	// the near video request above is still pending.
	_, issuedFar := r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeAudio, URL: "a-far.mp4", TimeInfo: &TimeInfo{Start: 30}})
	assert.False(t, issuedFar)
	r.Unlock()

	// The distant audio request is less urgent than the still-pending
	// video request, so it must remain queued rather than flush.
	assert.Equal(t, callsAfterFirst, f.calls)
	assert.Len(t, r.waiting, 1)
}

func TestIsRequestingSegment_DetectsDuplicate(t *testing.T) {
	r, _, _ := newTestRequester()
	_, _ = r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeVideo, URL: "seg1.mp4"})
	assert.True(t, r.IsRequestingSegment(host.MediaTypeVideo, "seg1.mp4", nil))
	assert.False(t, r.IsRequestingSegment(host.MediaTypeAudio, "seg1.mp4", nil))
}

func TestOnPendingRequestFailure_RetriesThenFatal(t *testing.T) {
	r, f, tm := newTestRequester()
	id, _ := r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeVideo, URL: "seg1.mp4"})

	status := 503
	outcome := r.OnPendingRequestFailure(id, false, &status)
	require.Equal(t, FailureRetriedSegment, outcome.Kind)
	require.Len(t, tm.started, 1)
	assert.InDelta(t, float64(500*time.Millisecond), float64(tm.started[0]), float64(50*time.Millisecond))

	newID, ok := r.HandleTimerElapsed(host.TimerID(string(rune('a' + 1))))
	require.True(t, ok)
	require.Equal(t, 2, f.calls)

	outcome2 := r.OnPendingRequestFailure(newID, false, &status)
	require.Equal(t, FailureRetriedSegment, outcome2.Kind)

	newID2, ok := r.HandleTimerElapsed(host.TimerID(string(rune('a' + 2))))
	require.True(t, ok)

	outcome3 := r.OnPendingRequestFailure(newID2, false, &status)
	assert.Equal(t, FailureFatal, outcome3.Kind)
}

func TestLockUnlock_BatchesScheduling(t *testing.T) {
	r, f, _ := newTestRequester()
	r.Lock()
	_, issued := r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeVideo, URL: "seg1.mp4"})
	assert.False(t, issued)
	assert.Equal(t, 0, f.calls)
	r.Unlock()
	assert.Equal(t, 1, f.calls)
}

func TestAbortSegmentsBefore(t *testing.T) {
	r, _, _ := newTestRequester()
	base := 80.0
	r.UpdateBasePosition(&base)
	_, _ = r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeVideo, URL: "seg1.mp4", TimeInfo: &TimeInfo{Start: 10}})
	r.AbortSegmentsBefore(host.MediaTypeVideo, 75)
	assert.False(t, r.IsRequestingSegment(host.MediaTypeVideo, "seg1.mp4", nil))
}

func TestEarliestMediaSegmentPending(t *testing.T) {
	r, _, _ := newTestRequester()
	_, _ = r.RequestMediaSegment(WaitingSegmentInfo{MediaType: host.MediaTypeVideo, URL: "seg1.mp4", TimeInfo: &TimeInfo{Start: 30}})
	earliest := r.EarliestMediaSegmentPending()
	require.NotNil(t, earliest)
	assert.InDelta(t, 30.0, *earliest, 0.0001)
}
