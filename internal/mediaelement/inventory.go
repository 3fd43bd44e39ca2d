package mediaelement

import (
	"math"

	"github.com/oklog/ulid/v2"

	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/playliststore"
)

// floatTolerance is the slack used when comparing chunk boundaries.
const floatTolerance = 0.01

// BufferedChunk is one entry of the segment inventory: the engine's model
// of what the platform buffer actually contains for one media segment.
type BufferedChunk struct {
	ID ulid.ULID

	PlaylistStart float64
	PlaylistEnd   float64

	Start float64
	End   float64

	LastBufferedStart float64
	LastBufferedEnd   float64

	Validated bool

	Quality playliststore.SegmentQualityContext
}

// IsWorseThan reports whether this chunk is of lower quality than one
// carrying context, per the same-media_id override rule.
func (c *BufferedChunk) IsWorseThan(context playliststore.SegmentQualityContext) bool {
	return context.VariantScore > c.Quality.VariantScore && context.MediaPlaylistID != c.Quality.MediaPlaylistID
}

// AppearsGarbageCollected reports whether the platform buffer appears to
// have evicted part of this chunk since minWantedPos.
func (c *BufferedChunk) AppearsGarbageCollected(minWantedPos float64) bool {
	if c.LastBufferedStart-c.Start > 0.5 {
		return c.LastBufferedStart > minWantedPos
	}
	return c.End-c.LastBufferedEnd > 0.5
}

// NewChunkMetadata is what Insert needs to create a BufferedChunk.
type NewChunkMetadata struct {
	Start, End                 float64
	PlaylistStart, PlaylistEnd float64
	Quality                    playliststore.SegmentQualityContext
}

// Inventory tracks, per media kind, every segment known to be (at least
// partially) present in the platform source buffer.
type Inventory struct {
	mediaType host.MediaType
	chunks    []BufferedChunk
}

// NewInventory creates an empty inventory for the given media lane.
func NewInventory(mediaType host.MediaType) *Inventory {
	return &Inventory{mediaType: mediaType}
}

// Chunks returns the current ordered, non-overlapping chunk list.
func (inv *Inventory) Chunks() []BufferedChunk { return inv.chunks }

// Reset drops every tracked chunk, e.g. on a buffer flush.
func (inv *Inventory) Reset() { inv.chunks = nil }

// Insert merges a newly-pushed segment into the ordered inventory before
// its push completes. Invalid ranges (start >= end) are ignored.
func (inv *Inventory) Insert(meta NewChunkMetadata) ulid.ULID {
	if meta.Start >= meta.End {
		return ulid.ULID{}
	}

	id := ulid.Make()
	newChunk := BufferedChunk{
		ID:                id,
		Start:             meta.Start,
		End:               meta.End,
		PlaylistStart:     meta.PlaylistStart,
		PlaylistEnd:       meta.PlaylistEnd,
		LastBufferedStart: meta.Start,
		LastBufferedEnd:   meta.End,
		Quality:           meta.Quality,
	}

	baseIdx := -1
	for i := len(inv.chunks) - 1; i >= 0; i-- {
		if inv.chunks[i].Start <= meta.Start {
			baseIdx = i
			break
		}
	}

	var insertAt int
	switch {
	case baseIdx == -1:
		insertAt = 0

	case inv.chunks[baseIdx].End <= meta.Start:
		insertAt = baseIdx + 1

	case math.Abs(inv.chunks[baseIdx].Start-meta.Start) < floatTolerance:
		if inv.chunks[baseIdx].End <= meta.End {
			inv.chunks = append(inv.chunks[:baseIdx], inv.chunks[baseIdx+1:]...)
			insertAt = baseIdx
		} else {
			inv.chunks[baseIdx].Start = meta.End
			inv.chunks[baseIdx].LastBufferedStart = meta.End
			insertAt = baseIdx
		}

	case inv.chunks[baseIdx].End <= meta.End:
		inv.chunks[baseIdx].End = meta.Start
		inv.chunks[baseIdx].LastBufferedEnd = meta.Start
		insertAt = baseIdx + 1

	default:
		// base strictly contains the new chunk: split it in two.
		tail := inv.chunks[baseIdx]
		tail.Start = meta.End
		tail.LastBufferedStart = meta.End
		inv.chunks[baseIdx].End = meta.Start
		inv.chunks[baseIdx].LastBufferedEnd = meta.Start
		inv.chunks = append(inv.chunks, BufferedChunk{})
		copy(inv.chunks[baseIdx+2:], inv.chunks[baseIdx+1:])
		inv.chunks[baseIdx+1] = tail
		insertAt = baseIdx + 1
	}

	inv.chunks = append(inv.chunks, BufferedChunk{})
	copy(inv.chunks[insertAt+1:], inv.chunks[insertAt:])
	inv.chunks[insertAt] = newChunk

	inv.removeOverlappedAfter(insertAt, meta.End)

	return id
}

// removeOverlappedAfter drops entries entirely covered by the new chunk
// and start-shifts the first partially-overlapping one.
func (inv *Inventory) removeOverlappedAfter(insertedAt int, newEnd float64) {
	i := insertedAt + 1
	for i < len(inv.chunks) && inv.chunks[i].End <= newEnd {
		inv.chunks = append(inv.chunks[:i], inv.chunks[i+1:]...)
	}
	if i < len(inv.chunks) && inv.chunks[i].Start < newEnd {
		inv.chunks[i].Start = newEnd
		inv.chunks[i].LastBufferedStart = newEnd
	}
}

// Validate corrects a just-pushed segment's boundaries against the real
// buffered ranges report, bounded to +/-0.4s and sanity-checked against
// the playlist-advertised duration.
func (inv *Inventory) Validate(id ulid.ULID, buffered []host.BufferedRange, playlistDuration func(idx int) float64) {
	inv.Synchronize(buffered)

	idx := -1
	for i := range inv.chunks {
		if !inv.chunks[i].Validated && inv.chunks[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	rangeStart, rangeEnd, ok := largestOverlap(inv.chunks[idx], buffered)
	if !ok {
		return
	}

	var prev, next *BufferedChunk
	if idx > 0 {
		prev = &inv.chunks[idx-1]
	}
	if idx+1 < len(inv.chunks) {
		next = &inv.chunks[idx+1]
	}

	seg := inv.chunks[idx]
	prevBufEnd, hasPrev := prevEnd(prev)
	nextBufStart, hasNext := nextStart(next)
	startCorrection := correctionFromNeighbour(seg.Start, rangeStart, prevBufEnd, hasPrev, true)
	endCorrection := correctionFromNeighbour(seg.End, rangeEnd, nextBufStart, hasNext, false)

	newStart := seg.Start + startCorrection
	newEnd := seg.End + endCorrection
	newDuration := newEnd - newStart
	playlistDur := playlistDuration(idx)
	tolerance := math.Min(0.4, playlistDur/3)
	if playlistDur > 0 && math.Abs(newDuration-playlistDur) > tolerance {
		newStart = seg.Start
		newEnd = seg.End
	}

	inv.chunks[idx].Start = newStart
	inv.chunks[idx].End = newEnd
	inv.chunks[idx].LastBufferedStart = newStart
	inv.chunks[idx].LastBufferedEnd = newEnd
	inv.chunks[idx].Validated = true
}

func prevEnd(c *BufferedChunk) (float64, bool) {
	if c == nil {
		return 0, false
	}
	return c.LastBufferedEnd, true
}

func nextStart(c *BufferedChunk) (float64, bool) {
	if c == nil {
		return 0, false
	}
	return c.LastBufferedStart, true
}

// correctionFromNeighbour implements the contiguity-correction rule
// shared by both the start (isStart=true, compares against the previous
// chunk's buffered end) and end (compares against the next chunk's
// buffered start) cases, bounded at +/-0.4s.
func correctionFromNeighbour(segBoundary, rangeBoundary float64, neighbour float64, hasNeighbour bool, isStart bool) float64 {
	if !hasNeighbour {
		return clampCorrection(rangeBoundary - segBoundary)
	}
	if isStart {
		if neighbour+floatTolerance < segBoundary {
			// Not contiguous: segment starts the range.
			return clampCorrection(rangeBoundary - segBoundary)
		}
		if math.Abs(neighbour-segBoundary) < 0.4 {
			if segBoundary < neighbour {
				return 0
			}
			return clampCorrection(neighbour - segBoundary)
		}
		return 0
	}
	if segBoundary+floatTolerance < neighbour {
		return clampCorrection(rangeBoundary - segBoundary)
	}
	if math.Abs(neighbour-segBoundary) < 0.4 {
		if segBoundary > neighbour {
			return 0
		}
		return clampCorrection(neighbour - segBoundary)
	}
	return 0
}

func clampCorrection(c float64) float64 {
	if c > 0.4 {
		return 0.4
	}
	if c < -0.4 {
		return -0.4
	}
	return c
}

func largestOverlap(seg BufferedChunk, buffered []host.BufferedRange) (start, end float64, ok bool) {
	bestOverlap := 0.0
	found := false
	for _, r := range buffered {
		overlap := math.Min(seg.End, r.End) - math.Max(seg.Start, r.Start)
		if overlap > 0 && overlap > bestOverlap {
			bestOverlap = overlap
			start, end = r.Start, r.End
			found = true
		}
	}
	return start, end, found
}

// Synchronize walks the real buffered ranges against the validated
// entries every observation: raises LastBufferedStart when a range has
// been GC'd at the head, lowers LastBufferedEnd when GC'd at the tail,
// drops entries that shrink below 0.01s or sit entirely before the first
// range, and truncates trailing entries beyond the last range.
func (inv *Inventory) Synchronize(buffered []host.BufferedRange) {
	if len(inv.chunks) == 0 {
		return
	}
	if len(buffered) == 0 {
		var pending []BufferedChunk
		for _, c := range inv.chunks {
			if !c.Validated {
				pending = append(pending, c)
			}
		}
		inv.chunks = pending
		return
	}

	firstRangeStart := buffered[0].Start
	lastRangeEnd := buffered[len(buffered)-1].End

	var kept []BufferedChunk
	for _, c := range inv.chunks {
		if !c.Validated {
			kept = append(kept, c)
			continue
		}
		if c.End <= firstRangeStart {
			continue // entirely before the first range: removed.
		}
		if c.Start >= lastRangeEnd {
			continue // entirely beyond the last range: removed.
		}

		for _, r := range buffered {
			if r.Start > c.LastBufferedStart && r.Start < c.LastBufferedEnd {
				c.LastBufferedStart = r.Start
			}
			if r.End < c.LastBufferedEnd && r.End > c.LastBufferedStart {
				c.LastBufferedEnd = r.End
			}
		}
		if c.Start < firstRangeStart {
			c.LastBufferedStart = firstRangeStart
		}
		if c.End > lastRangeEnd {
			c.LastBufferedEnd = lastRangeEnd
		}

		if c.LastBufferedEnd-c.LastBufferedStart < floatTolerance {
			continue
		}
		kept = append(kept, c)
	}
	inv.chunks = kept
}
