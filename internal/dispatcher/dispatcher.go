// Package dispatcher is the orchestrating state machine: it couples the
// playlist store, requester, media element facade and an EWMA bandwidth
// estimator into the single object an embedder drives through host
// callbacks and a small public control surface (Load/Stop/Seek/
// LockVariant/SetAudioTrack).
package dispatcher

import (
	"sync"

	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/mediaelement"
	"github.com/avalon-stream/hlsplay/internal/parser"
	"github.com/avalon-stream/hlsplay/internal/playliststore"
	"github.com/avalon-stream/hlsplay/internal/requester"
)

// Config bundles the tunables a dispatcher needs beyond its host
// collaborators: request timing (passed straight through to the
// requester), the EWMA half-life, and the append-ahead target used for
// BufferFull eviction windows.
type Config struct {
	Requester         requester.Config
	BandwidthHalfLife float64 // weight units (ms); spec default 2000.
	BufferGoal        float64 // seconds of lookahead the selector targets.
}

// Dispatcher is the single-threaded-by-convention core: every public
// method and every host-facing event entrypoint takes the same mutex, so
// there is never more than one logical "turn" executing at once — the Go
// translation of the spec's cooperative single-threaded event loop.
type Dispatcher struct {
	mu sync.Mutex

	msHost   host.MediaSourceHost
	probe    host.CodecSupportProbe
	control  host.MediaElementControl
	report   host.ErrorReporter
	timers   host.TimerScheduler
	observer Observer

	req    *requester.Requester
	facade *mediaelement.Facade
	store  *playliststore.Store

	cfg Config

	state              State
	startingPosition   StartingPosition
	wantedPlaybackRate float64

	bandwidth *ewma
	selectors map[host.MediaType]*selector

	refreshOwner map[host.TimerID]playliststore.PermanentID
	refreshTimer map[playliststore.PermanentID]host.TimerID

	mvURL       string
	mvRequestID host.RequestID

	pendingMediaLoads map[playliststore.PermanentID]bool
	codecsReady       bool
}

// New builds a Dispatcher bound to its host collaborators. The fetcher,
// timer scheduler and random source are handed to the internal
// requester; the media source host and element control are handed to
// the internal media element facade.
func New(
	fetcher host.Fetcher,
	timers host.TimerScheduler,
	msHost host.MediaSourceHost,
	probe host.CodecSupportProbe,
	control host.MediaElementControl,
	random host.RandomSource,
	report host.ErrorReporter,
	cfg Config,
) *Dispatcher {
	d := &Dispatcher{
		msHost:            msHost,
		probe:             probe,
		control:           control,
		report:            report,
		timers:            timers,
		cfg:               cfg,
		wantedPlaybackRate: 1,
		bandwidth:         newEWMA(cfg.BandwidthHalfLife),
		selectors: map[host.MediaType]*selector{
			host.MediaTypeVideo: {},
			host.MediaTypeAudio: {},
		},
		refreshOwner:      make(map[host.TimerID]playliststore.PermanentID),
		refreshTimer:      make(map[playliststore.PermanentID]host.TimerID),
		pendingMediaLoads: make(map[playliststore.PermanentID]bool),
	}
	d.req = requester.New(fetcher, timers, random, cfg.Requester)
	d.facade = mediaelement.New(msHost, control, report)
	d.facade.SetBufferGoal(cfg.BufferGoal)
	d.facade.SetBufferFullHost(d)
	return d
}

// RestartSelectorNear implements mediaelement.BufferFullHost: the facade
// calls this once it has queued the eviction removes for a BufferFull
// recovery, so the lane's selector re-offers the evicted region.
func (d *Dispatcher) RestartSelectorNear(mediaType host.MediaType, position float64) {
	d.selectors[mediaType].restartAt(position)
	d.tryScheduleSegments()
}

// State returns the current top-level state; primarily for tests and
// status reporting.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Load begins fetching url as a Multivariant Playlist. Only valid from
// Stopped.
func (d *Dispatcher) Load(url string, startPos StartingPosition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateStopped {
		return
	}
	d.mvURL = url
	d.startingPosition = startPos
	d.mvRequestID = d.req.RequestMultivariant(url)
	d.state = StateLoading
}

// Stop tears down everything: pending requests and timers are canceled,
// the playlist store and facade are dropped, and the media source is
// released.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopCurrentContent()
}

func (d *Dispatcher) stopCurrentContent() {
	d.req.Stop()
	d.facade.Stop()
	for _, timerID := range d.refreshTimer {
		d.clearRefreshTimer(timerID)
	}
	d.refreshOwner = make(map[host.TimerID]playliststore.PermanentID)
	d.refreshTimer = make(map[playliststore.PermanentID]host.TimerID)
	d.store = nil
	d.selectors[host.MediaTypeVideo] = &selector{}
	d.selectors[host.MediaTypeAudio] = &selector{}
	d.msHost.RemoveMediaSource()
	d.state = StateStopped
	d.codecsReady = false
	d.pendingMediaLoads = make(map[playliststore.PermanentID]bool)
}

// reportFatal reports a fatal error and unwinds to Stopped, per the
// propagation policy.
func (d *Dispatcher) reportFatal(err error) {
	d.report.ReportFatal(err)
	if d.observer != nil {
		d.observer.ObserveFatalError(err)
	}
	d.stopCurrentContent()
}

// LockVariant forces the given stable variant id; any resulting media
// lane changes are applied immediately, bypassing the worsening-only
// rule.
func (d *Dispatcher) LockVariant(stableID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store == nil {
		return nil
	}
	if err := d.store.LockVariant(stableID); err != nil {
		return err
	}
	d.applyVariantEffects([]host.MediaType{host.MediaTypeVideo, host.MediaTypeAudio}, true)
	return nil
}

// UnlockVariant releases a previous LockVariant call.
func (d *Dispatcher) UnlockVariant() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store != nil {
		d.store.UnlockVariant()
	}
}

// SetAudioTrack selects an audio rendition by stable id; like
// LockVariant, any resulting change is applied immediately.
func (d *Dispatcher) SetAudioTrack(stableID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store == nil {
		return
	}
	changed, _ := d.store.SetAudioTrack(stableID)
	if changed {
		d.applyVariantEffects([]host.MediaType{host.MediaTypeAudio}, true)
	}
}

// Seek requests playback jump to position (playlist time). Per the spec,
// an actual Seeking observation drives the real reset; this only queues
// the media-element-side seek once the offset is known.
func (d *Dispatcher) Seek(position float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.facade.Seek(position)
}

func wantedPosition(mp *parser.MediaPlaylist, startPos StartingPosition, store *playliststore.Store) float64 {
	switch startPos.Kind {
	case StartAbsolute:
		return startPos.Offset
	case StartFromBeginning:
		return store.CurrMinPosition()
	case StartFromEnd:
		return store.CurrMaxPosition() - startPos.Offset
	default:
		return store.ExpectedStartTime()
	}
}
