// Package requester schedules and executes playlist and segment
// requests: priority lanes for segments, per-category timeouts,
// exponential backoff with jitter, duplicate detection and aborts. It
// never touches the network itself; all I/O happens through the injected
// host.Fetcher.
package requester

import (
	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/playliststore"
)

// PlaylistKind distinguishes the two playlist request shapes.
type PlaylistKind int

const (
	PlaylistKindMultivariant PlaylistKind = iota
	PlaylistKindMedia
)

// PlaylistRequest describes one in-flight Multivariant or Media Playlist
// fetch. Playlist requests are never queued; they always start
// immediately.
type PlaylistRequest struct {
	ID              host.RequestID
	URL             string
	Kind            PlaylistKind
	MediaType       host.MediaType // meaningful only when Kind == PlaylistKindMedia.
	PermanentID     playliststore.PermanentID
	AttemptsFailed  int
	WaitingForRetry bool
}

// TimeInfo is a segment's playlist-time placement, absent for requests
// whose start time isn't yet known (always highest priority).
type TimeInfo struct {
	Start    float64
	Duration float64
}

// SegmentRequest describes one in-flight init or media segment fetch.
type SegmentRequest struct {
	ID              host.RequestID
	MediaType       host.MediaType
	URL             string
	ByteRange       *host.ByteRange
	TimeInfo        *TimeInfo
	IsInit          bool
	AttemptsFailed  int
	WaitingForRetry bool
	Quality         playliststore.SegmentQualityContext
	priority        int // admission priority at the moment this request was issued.
}

// WaitingSegmentInfo is a SegmentRequest that hasn't been issued yet: the
// same fields, minus a request id (there's nothing in flight).
type WaitingSegmentInfo struct {
	MediaType       host.MediaType
	URL             string
	ByteRange       *host.ByteRange
	TimeInfo        *TimeInfo
	IsInit          bool
	AttemptsFailed  int
	Quality         playliststore.SegmentQualityContext
	priority        int
	sequence        uint64 // FIFO tie-break among equal priorities.
}

// SuccessOutcome is returned by OnPendingRequestSuccess.
type SuccessOutcome struct {
	IsSegment bool
	Segment   *SegmentRequest
	Playlist  *PlaylistRequest
}

// FailureOutcomeKind enumerates what happened to a failed request.
type FailureOutcomeKind int

const (
	FailureFatal FailureOutcomeKind = iota
	FailureRetriedSegment
	FailureRetriedPlaylist
	FailureNotFound
)

// FailureOutcome is returned by OnPendingRequestFailure.
type FailureOutcome struct {
	Kind     FailureOutcomeKind
	Segment  *SegmentRequest
	Playlist *PlaylistRequest
}
