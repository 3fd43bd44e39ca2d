package dispatcher

import "github.com/avalon-stream/hlsplay/internal/host"

// State is the top-level playback state machine.
type State int

const (
	StateStopped State = iota
	StateLoading
	StateAwaitingSegments
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAwaitingSegments:
		return "awaiting_segments"
	case StatePlaying:
		return "playing"
	default:
		return "stopped"
	}
}

// StartingPositionKind selects how a Load call's starting position is
// interpreted once every required Media Playlist is ready.
type StartingPositionKind int

const (
	StartFromExpected StartingPositionKind = iota
	StartAbsolute
	StartFromBeginning
	StartFromEnd
)

// StartingPosition is the starting-position argument to Load.
type StartingPosition struct {
	Kind   StartingPositionKind
	Offset float64 // only meaningful for StartAbsolute/StartFromEnd
}

// mediaTypes lists the two source-buffer lanes the dispatcher manages.
var mediaTypes = [...]host.MediaType{host.MediaTypeVideo, host.MediaTypeAudio}
