package dispatcher

import "github.com/avalon-stream/hlsplay/internal/host"

// Observer receives diagnostics notifications as the dispatcher runs. It
// is optional: a nil observer (the default) costs a nil check per call
// site and nothing else, so nothing in the core depends on one being
// present.
type Observer interface {
	ObserveVariantSwitch(mediaType host.MediaType, stableID string, worsening bool)
	ObserveRebufferStart()
	ObserveRebufferEnd()
	ObserveFatalError(err error)
	ObserveSeek(position float64)
	ObserveLiveDiscontinuitySkip(position float64)
}

// SetObserver attaches or replaces the diagnostics observer.
func (d *Dispatcher) SetObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = o
}
