package dispatcher

import (
	"time"

	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/parser"
	"github.com/avalon-stream/hlsplay/internal/playliststore"
)

// maybeScheduleRefresh schedules a refresh timer for id's Media Playlist
// if it may still be refreshed, canceling any timer already outstanding
// for it first (an outdated timer whose permanent id no longer matches
// the current selection is simply never rescheduled again).
func (d *Dispatcher) maybeScheduleRefresh(id playliststore.PermanentID, mp *parser.MediaPlaylist) {
	d.cancelRefresh(id)
	if !mp.MayBeRefreshed() {
		return
	}

	lastDuration := mp.TargetDuration
	if n := len(mp.Segments); n > 0 {
		lastDuration = mp.Segments[n-1].Duration
	}
	byLastSegment := lastDuration * 1.1 * 1000
	byTarget := mp.TargetDuration / 2 * 1000
	ms := byLastSegment
	if byTarget < ms {
		ms = byTarget
	}
	if ms < 0 {
		ms = 0
	}

	timerID := d.timers.Start(time.Duration(ms)*time.Millisecond, host.TimerReasonMediaPlaylistRefresh)
	d.refreshOwner[timerID] = id
	d.refreshTimer[id] = timerID
}

func (d *Dispatcher) cancelRefresh(id playliststore.PermanentID) {
	if timerID, ok := d.refreshTimer[id]; ok {
		d.clearRefreshTimer(timerID)
	}
}

func (d *Dispatcher) clearRefreshTimer(timerID host.TimerID) {
	d.timers.Clear(timerID)
	if id, ok := d.refreshOwner[timerID]; ok {
		delete(d.refreshOwner, timerID)
		delete(d.refreshTimer, id)
	}
}

// onRefreshTimerElapsed re-fetches the Media Playlist for id, unless a
// newer timer has since superseded it (outdated timers are dropped from
// refreshOwner as soon as they're canceled, so a stale fire is simply a
// missing lookup).
func (d *Dispatcher) onRefreshTimerElapsed(timerID host.TimerID) bool {
	id, ok := d.refreshOwner[timerID]
	if !ok {
		return false
	}
	delete(d.refreshOwner, timerID)
	delete(d.refreshTimer, id)

	url, ok := d.store.URLFor(id)
	if !ok {
		return true
	}
	mt := host.MediaTypeVideo
	if id.Location == playliststore.LocationAudioTrack {
		mt = host.MediaTypeAudio
	}
	d.req.RequestMediaPlaylist(url, mt, id)
	return true
}
