// Package playerhost supplies the small host-side collaborators a
// headless player needs that have no platform equivalent to call out to:
// a wall-clock-driven playback position, a codec probe, a jitter source
// and a logging error reporter.
package playerhost

import (
	"sync"
	"time"

	"github.com/avalon-stream/hlsplay/internal/host"
)

const observationInterval = 250 * time.Millisecond

// Clock implements host.MediaElementControl by advancing a virtual
// playback position at the configured rate and periodically reporting a
// MediaObservation to the EngineSink it was constructed with, the way a
// real HTMLMediaElement's timeupdate/seeking/seeked events would.
type Clock struct {
	sink host.EngineSink

	mu           sync.Mutex
	currentTime  float64
	offset       float64
	hasOffset    bool
	rate         float64
	observing    bool
	stopCh       chan struct{}
	seekInFlight bool
	readyState   int
	duration     float64
}

// New builds a Clock; playback starts paused at position 0 with no
// media offset known yet, matching a freshly attached media element.
func New(sink host.EngineSink) *Clock {
	return &Clock{
		sink: sink,
		rate: 1,
	}
}

// Seek implements host.MediaElementControl. mediaPosition is in media-
// element time (post-offset), matching what the facade passes.
func (c *Clock) Seek(mediaPosition float64) {
	c.mu.Lock()
	c.currentTime = mediaPosition
	c.seekInFlight = true
	c.mu.Unlock()

	c.emit(host.ObservationSeeking)
	c.emit(host.ObservationSeeked)

	c.mu.Lock()
	c.seekInFlight = false
	c.mu.Unlock()
}

// SetPlaybackRate implements host.MediaElementControl.
func (c *Clock) SetPlaybackRate(rate float64) {
	c.mu.Lock()
	c.rate = rate
	c.mu.Unlock()
}

// SetMediaOffset implements host.MediaElementControl: seconds is the
// playlist-time value that corresponds to media-element time zero.
func (c *Clock) SetMediaOffset(seconds float64) {
	c.mu.Lock()
	c.offset = seconds
	c.hasOffset = true
	c.mu.Unlock()
}

// SetDuration records the source duration reported by AttachMediaSource's
// caller, surfaced on every observation.
func (c *Clock) SetDuration(seconds float64) {
	c.mu.Lock()
	c.duration = seconds
	c.mu.Unlock()
}

// SetReadyState updates the readyState surfaced on observations; callers
// drive this from whatever signals the append pipeline is keeping up
// (e.g. HAVE_ENOUGH_DATA once the first segment of every lane lands).
func (c *Clock) SetReadyState(state int) {
	c.mu.Lock()
	prior := c.readyState
	c.readyState = state
	c.mu.Unlock()
	if prior != state {
		c.emit(host.ObservationReadyStateChanged)
	}
}

// StartObservingPlayback implements host.MediaElementControl: begins the
// wall-clock ticker that advances currentTime and reports regular-
// interval observations.
func (c *Clock) StartObservingPlayback() {
	c.mu.Lock()
	if c.observing {
		c.mu.Unlock()
		return
	}
	c.observing = true
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	c.mu.Unlock()

	go c.run(stop)
}

// StopObservingPlayback implements host.MediaElementControl.
func (c *Clock) StopObservingPlayback() {
	c.mu.Lock()
	if !c.observing {
		c.mu.Unlock()
		return
	}
	c.observing = false
	close(c.stopCh)
	c.mu.Unlock()
}

func (c *Clock) run(stop chan struct{}) {
	ticker := time.NewTicker(observationInterval)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			elapsed := now.Sub(last).Seconds()
			last = now

			c.mu.Lock()
			if !c.seekInFlight {
				c.currentTime += elapsed * c.rate
			}
			c.mu.Unlock()

			c.emit(host.ObservationRegularInterval)
		}
	}
}

// End marks playback as ended (e.g. once the facade signals end of
// stream) and fires one final observation.
func (c *Clock) End() {
	c.emit(host.ObservationEnded)
}

func (c *Clock) emit(reason host.ObservationReason) {
	c.mu.Lock()
	obs := host.MediaObservation{
		Reason:       reason,
		CurrentTime:  c.currentTime,
		PlaybackRate: c.rate,
		Duration:     c.duration,
		ReadyState:   c.readyState,
		Ended:        reason == host.ObservationEnded,
	}
	c.mu.Unlock()

	c.sink.OnObservation(obs)
}
