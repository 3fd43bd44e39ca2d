package dispatcher

import (
	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/mediaelement"
	"github.com/avalon-stream/hlsplay/internal/parser"
	"github.com/avalon-stream/hlsplay/internal/playliststore"
	"github.com/avalon-stream/hlsplay/internal/requester"
)

// OnRequestSucceeded is the host callback for a completed fetch.
func (d *Dispatcher) OnRequestSucceeded(id host.RequestID, blob []byte, finalURL string, size int64, durationMs float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	outcome := d.req.OnPendingRequestSuccess(id)
	if outcome == nil {
		return
	}
	if outcome.IsSegment {
		d.handleSegmentSuccess(outcome.Segment, blob, durationMs)
		return
	}
	d.handlePlaylistSuccess(outcome.Playlist, blob, finalURL)
}

// OnRequestFailed is the host callback for a failed fetch.
func (d *Dispatcher) OnRequestFailed(id host.RequestID, timedOut bool, status *int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	outcome := d.req.OnPendingRequestFailure(id, timedOut, status)
	if outcome == nil || outcome.Kind == requester.FailureNotFound {
		return
	}
	if outcome.Kind == requester.FailureFatal {
		d.reportFatal(&RequestFailedError{URL: requestURL(outcome)})
	}
}

func requestURL(o *requester.FailureOutcome) string {
	if o.Segment != nil {
		return o.Segment.URL
	}
	if o.Playlist != nil {
		return o.Playlist.URL
	}
	return ""
}

// OnTimerElapsed is the host callback for a one-shot timer firing. It may
// belong to the requester (retry), the dispatcher itself (playlist
// refresh), or be stale (already canceled); all three are handled.
func (d *Dispatcher) OnTimerElapsed(id host.TimerID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.onRefreshTimerElapsed(id) {
		return
	}
	d.req.HandleTimerElapsed(id)
}

// OnCodecSupportUpdate is called once a Pending codec probe resolves;
// the dispatcher rechecks support and, if ready, proceeds past Loading.
func (d *Dispatcher) OnCodecSupportUpdate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store == nil {
		return
	}
	d.recheckCodecsAndAdvance()
}

func (d *Dispatcher) recheckCodecsAndAdvance() {
	status, err := d.store.CheckCodecs()
	if err != nil {
		d.reportFatal(err)
		return
	}
	d.codecsReady = status == playliststore.CodecStatusReady
	d.tryAdvanceToAwaitingSegments()
}

// OnObservation is the host callback for a periodic/event-driven media
// element observation.
func (d *Dispatcher) OnObservation(obs host.MediaObservation) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if obs.PlaybackRate > 0 {
		d.wantedPlaybackRate = obs.PlaybackRate
	}

	if obs.Reason == host.ObservationSeeking {
		d.handleSeeking(obs)
	}

	d.facade.HandleObservation(obs, d)

	if d.state == StateAwaitingSegments {
		d.checkLiveDiscontinuitySkip()
	}
	if d.state == StateAwaitingSegments || d.state == StatePlaying {
		d.tryScheduleSegments()
	}
}

// checkLiveDiscontinuitySkip implements the "on each regular tick during
// rebuffering" live-playlist discontinuity check: if the next segment
// that could possibly arrive (already pending, or already buffered past
// the wanted position) starts further out than the current buffer gap
// tolerates, jump playback forward to just past it rather than wait on
// a gap the playlist will never fill from here.
func (d *Dispatcher) checkLiveDiscontinuitySkip() {
	if d.store == nil {
		return
	}
	wanted := d.facade.WantedPosition()
	gap, hasGap := d.facade.LastBufferGap()
	if !hasGap {
		gap = 0
	}
	next, ok := d.nextScheduledSegmentStart(wanted)
	if !ok || next <= wanted+gap {
		return
	}
	skipTo := next + 0.01
	if d.observer != nil {
		d.observer.ObserveLiveDiscontinuitySkip(skipTo)
	}
	d.jumpTo(skipTo)
}

func (d *Dispatcher) nextScheduledSegmentStart(wanted float64) (float64, bool) {
	best := 0.0
	ok := false
	if v := d.req.EarliestMediaSegmentPending(); v != nil {
		best, ok = *v, true
	}
	for _, mt := range mediaTypes {
		inv := d.facade.Inventory(mt)
		if inv == nil {
			continue
		}
		for _, c := range inv.Chunks() {
			if c.PlaylistEnd > wanted+epsilon {
				if !ok || c.PlaylistStart < best {
					best, ok = c.PlaylistStart, true
				}
				break
			}
		}
	}
	return best, ok
}

// jumpTo forces playback to position, the same reset handleSeeking does
// for a host-driven seek, plus queuing the media-element-side seek.
func (d *Dispatcher) jumpTo(position float64) {
	d.req.Lock()
	for _, mt := range mediaTypes {
		d.selectors[mt].restartAt(position)
	}
	d.req.UpdateBasePosition(&position)
	d.dropStaleSegmentRequests(position)
	d.req.Unlock()
	d.facade.Seek(position)
}

// StartRebuffering / StopRebuffering implement mediaelement.RebufferingHost.
func (d *Dispatcher) StartRebuffering() {
	d.state = StateAwaitingSegments
	if d.observer != nil {
		d.observer.ObserveRebufferStart()
	}
}

func (d *Dispatcher) StopRebuffering() {
	d.state = StatePlaying
	if d.observer != nil {
		d.observer.ObserveRebufferEnd()
	}
}

func (d *Dispatcher) handleSeeking(obs host.MediaObservation) {
	wanted := d.facade.MediaToPlaylistPos(obs.CurrentTime)
	if d.observer != nil {
		d.observer.ObserveSeek(wanted)
	}
	target := wanted - 0.2
	if target < 0 {
		target = 0
	}

	d.req.Lock()
	for _, mt := range mediaTypes {
		d.selectors[mt].restartAt(target)
	}
	d.req.UpdateBasePosition(&wanted)
	d.dropStaleSegmentRequests(wanted)
	d.req.Unlock()
}

// dropStaleSegmentRequests aborts pending/waiting segment requests whose
// start predates the new selector position, per the seek-past-buffer
// scenario.
func (d *Dispatcher) dropStaleSegmentRequests(wanted float64) {
	for _, mt := range mediaTypes {
		d.req.AbortSegmentsBefore(mt, wanted-0.2-epsilon)
	}
}

func (d *Dispatcher) handlePlaylistSuccess(p *requester.PlaylistRequest, blob []byte, finalURL string) {
	if p.Kind == requester.PlaylistKindMultivariant {
		d.handleMultivariantSuccess(blob, finalURL)
		return
	}
	d.handleMediaPlaylistSuccess(p, blob, finalURL)
}

func (d *Dispatcher) handleMultivariantSuccess(blob []byte, finalURL string) {
	mv, err := parser.ParseMultivariant(blob, finalURL)
	if err != nil {
		d.reportFatal(err)
		return
	}
	d.store = playliststore.New(mv, d.probe, 0)
	d.recheckCodecsAndAdvance()
	d.requestInitialMediaPlaylists()
}

func (d *Dispatcher) requestInitialMediaPlaylists() {
	for _, mt := range mediaTypes {
		id := d.store.CurrPermanentID(mt)
		if _, _, ok := d.store.CurrMediaPlaylist(mt); ok {
			continue
		}
		if d.pendingMediaLoads[id] {
			continue
		}
		d.requestMediaPlaylist(mt, id)
	}
}

func (d *Dispatcher) handleMediaPlaylistSuccess(p *requester.PlaylistRequest, blob []byte, finalURL string) {
	d.pendingMediaLoads[p.PermanentID] = false

	var prev *parser.MediaPlaylist
	var mvCtx parser.MultivariantContext
	if d.store != nil {
		prev, _, _ = d.store.CurrMediaPlaylist(p.MediaType)
		mvCtx = d.store.MultivariantContext()
	}

	mp, err := parser.ParseMediaPlaylist(blob, finalURL, prev, &mvCtx)
	if err != nil {
		d.reportFatal(err)
		return
	}
	d.store.SetMediaPlaylist(p.PermanentID, mp)
	d.facade.SetMinBufferTime(mp.TargetDuration)
	d.maybeScheduleRefresh(p.PermanentID, mp)

	d.tryAdvanceToAwaitingSegments()
	if d.state == StateAwaitingSegments || d.state == StatePlaying {
		d.tryScheduleSegments()
	}
}

// tryAdvanceToAwaitingSegments implements the Loading -> AwaitingSegments
// transition: every required Media Playlist ready, media source open,
// codecs resolved.
func (d *Dispatcher) tryAdvanceToAwaitingSegments() {
	if d.state != StateLoading || d.store == nil || !d.codecsReady {
		return
	}
	for _, mt := range mediaTypes {
		if _, _, ok := d.store.CurrMediaPlaylist(mt); !ok {
			return
		}
	}
	if d.msHost.IsClosed() {
		return
	}

	vmp, _, _ := d.store.CurrMediaPlaylist(host.MediaTypeVideo)
	start := wantedPosition(vmp, d.startingPosition, d.store)
	for _, mt := range mediaTypes {
		d.selectors[mt].restartAt(start)
	}

	d.msHost.SetMediaSourceDuration(liveOrVodDuration(vmp, d.store))

	for _, mt := range mediaTypes {
		_, segs, _, ok := d.store.CurrMediaPlaylistSegmentInfo(mt)
		if !ok || len(segs) == 0 {
			continue
		}
		mime := parser.InferMIME(segs[0].URL, mt)
		if err := d.facade.CreateSourceBuffer(mt, mime); err != nil {
			d.reportFatal(err)
			return
		}
	}

	d.control.StartObservingPlayback()
	d.state = StateAwaitingSegments
}

func liveOrVodDuration(mp *parser.MediaPlaylist, store *playliststore.Store) float64 {
	if mp != nil && mp.EndList {
		return store.CurrMaxPosition()
	}
	return 4294967295 // u32::MAX equivalent for an effectively-unbounded live duration.
}

func (d *Dispatcher) handleSegmentSuccess(seg *requester.SegmentRequest, blob []byte, durationMs float64) {
	var start float64
	if seg.TimeInfo != nil {
		start = seg.TimeInfo.Start
	}
	_, segs, quality, _ := d.store.CurrMediaPlaylistSegmentInfo(seg.MediaType)
	isLast := isLastSegmentPush(segs, start)

	d.facade.AnnounceIncomingSegment(seg.MediaType, string(seg.ID), blob, mediaelement.NewChunkMetadata{
		Start:         start,
		End:           start + segDuration(seg),
		PlaylistStart: start,
		PlaylistEnd:   start + segDuration(seg),
		Quality:       quality,
	}, isLast)

	if seg.MediaType == host.MediaTypeVideo {
		d.checkBestVariant(durationMs, float64(len(blob)))
	}

	d.tryScheduleSegments()
}

func segDuration(seg *requester.SegmentRequest) float64 {
	if seg.TimeInfo == nil {
		return 0
	}
	return seg.TimeInfo.Duration
}

func isLastSegmentPush(segs []parser.MediaSegment, start float64) bool {
	if len(segs) == 0 {
		return false
	}
	last := segs[len(segs)-1]
	return last.StartTime <= start+epsilon
}

// tryScheduleSegments asks each media type's selector for its next
// eligible segment and issues the request if one isn't already pending.
func (d *Dispatcher) tryScheduleSegments() {
	if d.store == nil {
		return
	}
	for _, mt := range mediaTypes {
		d.tryScheduleOne(mt)
	}
}

func (d *Dispatcher) tryScheduleOne(mt host.MediaType) {
	mp, _, ok := d.store.CurrMediaPlaylist(mt)
	if !ok {
		return
	}
	_, _, quality, ok := d.store.CurrMediaPlaylistSegmentInfo(mt)
	if !ok {
		return
	}
	lane := d.facade.Inventory(mt)
	covers := func(start, end float64) bool {
		if lane == nil {
			return false
		}
		for _, c := range lane.Chunks() {
			if c.Start <= start+epsilon && c.End >= end-epsilon {
				return true
			}
		}
		return false
	}

	picked := d.selectors[mt].pick(mp, quality, covers)
	if picked == nil {
		return
	}
	if d.req.IsRequestingSegment(mt, picked.segment.URL, toHostByteRange(picked.segment.ByteRange)) {
		return
	}
	d.req.RequestMediaSegment(waitingInfoFor(mt, picked))
}
