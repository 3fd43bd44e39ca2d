package dispatcher

import (
	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/parser"
)

// Status is a snapshot of dispatcher state for status/debug surfaces; it
// never drives control flow, only observability.
type Status struct {
	State             State
	BandwidthEstimate float64 // bits per second, current EWMA estimate.
	CurrentVariant    string  // STABLE-VARIANT-ID of the active variant, empty before Load.
	WantedPosition    float64
	SelectorPositions map[host.MediaType]float64
}

// Status returns a point-in-time snapshot safe to call from any
// goroutine; like every other Dispatcher method it takes the single
// dispatcher lock.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Status{
		State:             d.state,
		BandwidthEstimate: d.bandwidth.estimate() * 8 * 1000, // bytes/ms -> bits/s
		WantedPosition:    d.facade.WantedPosition(),
		SelectorPositions: make(map[host.MediaType]float64, len(d.selectors)),
	}
	for mt, sel := range d.selectors {
		st.SelectorPositions[mt] = sel.position
	}
	if d.store != nil {
		st.CurrentVariant = d.store.CurrentVariant().StableID
	}
	return st
}

// Variants returns every variant the loaded Multivariant Playlist
// declares, for the debug surface's /variants listing. Empty before Load
// completes.
func (d *Dispatcher) Variants() []parser.Variant {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.store == nil {
		return nil
	}
	return d.store.Variants()
}
