package dispatcher

import (
	"context"
	"time"

	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/requester"
)

type fakeFetcher struct {
	nextID  int
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ *host.ByteRange, _ time.Duration) host.RequestID {
	f.nextID++
	f.fetched = append(f.fetched, url)
	return host.RequestID(url)
}
func (f *fakeFetcher) Abort(host.RequestID) {}

type fakeTimers struct {
	started []time.Duration
	ids     []host.TimerID
	nextID  int
}

func (t *fakeTimers) Start(d time.Duration, _ host.TimerReason) host.TimerID {
	t.started = append(t.started, d)
	t.nextID++
	id := host.TimerID(string(rune('a' + t.nextID)))
	t.ids = append(t.ids, id)
	return id
}
func (t *fakeTimers) Clear(host.TimerID) {}

func (t *fakeTimers) idAt(i int) host.TimerID { return t.ids[i] }

type fakeMS struct {
	sbs    map[host.MediaType]bool
	closed bool
}

func newFakeMS() *fakeMS { return &fakeMS{sbs: make(map[host.MediaType]bool)} }

func (m *fakeMS) AttachMediaSource() error       { return nil }
func (m *fakeMS) RemoveMediaSource()             {}
func (m *fakeMS) SetMediaSourceDuration(float64)  {}
func (m *fakeMS) AddSourceBuffer(mt host.MediaType, _ string) (host.SourceBufferID, *host.AddSourceBufferError) {
	m.sbs[mt] = true
	return host.SourceBufferID(mt.String()), nil
}
func (m *fakeMS) AppendBuffer(host.SourceBufferID, string, []byte, bool) (*host.AppendResult, *host.AppendBufferError) {
	return &host.AppendResult{}, nil
}
func (m *fakeMS) RemoveBuffer(host.SourceBufferID, float64, float64) error { return nil }
func (m *fakeMS) Flush(host.SourceBufferID) error                         { return nil }
func (m *fakeMS) EndOfStream() error                                      { return nil }
func (m *fakeMS) IsClosed() bool                                          { return m.closed }

type alwaysSupportedProbe struct{}

func (alwaysSupportedProbe) IsTypeSupported(host.MediaType, string) host.CodecSupport {
	return host.CodecSupportTrue
}

type fakeControl struct{}

func (fakeControl) Seek(float64)              {}
func (fakeControl) SetPlaybackRate(float64)    {}
func (fakeControl) SetMediaOffset(float64)     {}
func (fakeControl) StartObservingPlayback()    {}
func (fakeControl) StopObservingPlayback()     {}

type fixedRandom struct{}

func (fixedRandom) Float64() float64 { return 0.5 }

type fakeReporter struct {
	fatal []error
}

func (r *fakeReporter) ReportFatal(err error)    { r.fatal = append(r.fatal, err) }
func (r *fakeReporter) ReportNonFatal(error)     {}

type observerCall struct {
	method string
	detail string
}

type fakeObserver struct {
	calls []observerCall
}

func (o *fakeObserver) ObserveVariantSwitch(mt host.MediaType, stableID string, worsening bool) {
	o.calls = append(o.calls, observerCall{method: "variantSwitch", detail: mt.String() + ":" + stableID})
}
func (o *fakeObserver) ObserveRebufferStart() {
	o.calls = append(o.calls, observerCall{method: "rebufferStart"})
}
func (o *fakeObserver) ObserveRebufferEnd() {
	o.calls = append(o.calls, observerCall{method: "rebufferEnd"})
}
func (o *fakeObserver) ObserveFatalError(err error) {
	o.calls = append(o.calls, observerCall{method: "fatalError", detail: err.Error()})
}
func (o *fakeObserver) ObserveSeek(position float64) {
	o.calls = append(o.calls, observerCall{method: "seek"})
}
func (o *fakeObserver) ObserveLiveDiscontinuitySkip(position float64) {
	o.calls = append(o.calls, observerCall{method: "liveDiscontinuitySkip"})
}

func newTestDispatcher() (*Dispatcher, *fakeFetcher, *fakeTimers, *fakeMS, *fakeReporter) {
	f := &fakeFetcher{}
	tm := &fakeTimers{}
	ms := newFakeMS()
	rep := &fakeReporter{}
	d := New(f, tm, ms, alwaysSupportedProbe{}, fakeControl{}, fixedRandom{}, rep, Config{
		Requester: requester.Config{
			PlaylistTimeout: time.Second,
			SegmentTimeout:  time.Second,
			RetryBase:       500 * time.Millisecond,
			RetryMax:        8 * time.Second,
		},
		BandwidthHalfLife: 2000,
		BufferGoal:        30,
	})
	return d, f, tm, ms, rep
}
