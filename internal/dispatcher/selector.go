package dispatcher

import (
	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/parser"
	"github.com/avalon-stream/hlsplay/internal/playliststore"
	"github.com/avalon-stream/hlsplay/internal/requester"
)

// selector tracks, per media type, the playlist-time position the next
// requested segment should cover. It never holds buffered state itself;
// it only advances a cursor and asks the inventory what's already there.
type selector struct {
	position float64
}

// restartAt resets the cursor, e.g. after a seek or a worsening variant
// change, to slightly behind the wanted position so the next pick starts
// from a segment already in flight rather than skipping ahead of it.
func (s *selector) restartAt(position float64) {
	s.position = position
}

// pick finds the next media segment in mp not already covered (wholly)
// by covers at or after the cursor, returning nil if nothing is eligible
// (e.g. the playlist needs a refresh before more segments exist).
func (s *selector) pick(mp *parser.MediaPlaylist, quality playliststore.SegmentQualityContext, covers func(start, end float64) bool) *pickedSegment {
	if mp == nil {
		return nil
	}
	for i := range mp.Segments {
		seg := &mp.Segments[i]
		start := seg.StartTime
		end := start + seg.Duration
		if end <= s.position+epsilon {
			continue
		}
		if covers != nil && covers(start, end) {
			continue
		}
		return &pickedSegment{
			index:       i,
			segment:     seg,
			start:       start,
			end:         end,
			quality:     quality,
			isLast:      mp.EndList && i == len(mp.Segments)-1,
		}
	}
	return nil
}

const epsilon = 1e-6

type pickedSegment struct {
	index   int
	segment *parser.MediaSegment
	start   float64
	end     float64
	quality playliststore.SegmentQualityContext
	isLast  bool
}

// waitingInfoFor builds the requester's WaitingSegmentInfo for a picked
// segment.
func waitingInfoFor(mediaType host.MediaType, picked *pickedSegment) requester.WaitingSegmentInfo {
	return requester.WaitingSegmentInfo{
		MediaType: mediaType,
		URL:       picked.segment.URL,
		ByteRange: toHostByteRange(picked.segment.ByteRange),
		TimeInfo:  &requester.TimeInfo{Start: picked.start, Duration: picked.segment.Duration},
		Quality:   picked.quality,
	}
}

func toHostByteRange(br *parser.ByteRange) *host.ByteRange {
	if br == nil {
		return nil
	}
	return &host.ByteRange{Offset: br.Offset, Length: br.Length}
}
