package dispatcher

import (
	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/playliststore"
)

// checkBestVariant folds in a fresh bandwidth sample and applies the
// resulting selection, per "best-variant re-evaluation" on every
// successful media-segment push: effective_bandwidth = ewma / wanted_speed.
func (d *Dispatcher) checkBestVariant(transferMillis, bytes float64) {
	if transferMillis <= 0 {
		return
	}
	d.bandwidth.addSample(transferMillis, bytes/transferMillis)
	rate := d.wantedPlaybackRate
	if rate <= 0 {
		rate = 1
	}
	effectiveBandwidthBytesPerMs := d.bandwidth.estimate() / rate
	bps := uint64(effectiveBandwidthBytesPerMs * 8 * 1000) // bytes/ms -> bits/s

	if d.store == nil {
		return
	}
	update := d.store.UpdateCurrBandwidth(bps)
	if update.Result == playliststore.ResultUnchanged || len(update.ChangedMediaTypes) == 0 {
		return
	}
	worsening := update.Result == playliststore.ResultWorsened
	d.applyVariantEffects(update.ChangedMediaTypes, worsening)
}

// applyVariantEffects implements "Variant change handling": for each
// media type that changed identity, if the change is a worsening or the
// caller explicitly forced it, abort pending requests and flush that
// lane's buffer, then restart its selector ~0.2s behind the wanted
// position and request the new Media Playlist if not already loaded.
func (d *Dispatcher) applyVariantEffects(changed []host.MediaType, forceImmediate bool) {
	wanted := d.facade.WantedPosition()
	for _, mt := range changed {
		if forceImmediate {
			d.req.AbortAll(mt)
			d.facade.EnqueueFlush(mt)
		}
		restart := wanted - 0.2
		if restart < 0 {
			restart = 0
		}
		d.selectors[mt].restartAt(restart)

		if d.observer != nil {
			d.observer.ObserveVariantSwitch(mt, d.store.CurrentVariant().StableID, forceImmediate)
		}

		id := d.store.CurrPermanentID(mt)
		if _, _, ok := d.store.CurrMediaPlaylist(mt); !ok && !d.pendingMediaLoads[id] {
			d.requestMediaPlaylist(mt, id)
		}
	}
	d.tryScheduleSegments()
}

func (d *Dispatcher) requestMediaPlaylist(mt host.MediaType, id playliststore.PermanentID) {
	url, ok := d.store.URLFor(id)
	if !ok {
		return
	}
	d.pendingMediaLoads[id] = true
	d.req.RequestMediaPlaylist(url, mt, id)
}
