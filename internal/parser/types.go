// Package parser parses HLS Multivariant and Media Playlists into plain
// Go structures. It does no network I/O and no transmuxing; it only
// understands the playlist-tag grammar described in RFC 8216bis.
package parser

// ByteRange is an inclusive byte span, mirroring EXT-X-BYTERANGE semantics.
type ByteRange struct {
	Length int64
	Offset int64 // when omitted in the playlist, the parser fills in the previous range's end.
}

// PlaylistType is the EXT-X-PLAYLIST-TYPE value, or None if absent.
type PlaylistType int

const (
	PlaylistTypeNone PlaylistType = iota
	PlaylistTypeEvent
	PlaylistTypeVoD
)

// StartAttr is the EXT-X-START tag: TIME-OFFSET plus PRECISE.
type StartAttr struct {
	Offset  float64
	Precise bool
}

// MediaKind distinguishes the renditions an EXT-X-MEDIA tag can describe.
type MediaKind int

const (
	MediaKindAudio MediaKind = iota
	MediaKindVideo
	MediaKindSubtitles
	MediaKindClosedCaptions
)

// Resolution is the RESOLUTION attribute of EXT-X-STREAM-INF.
type Resolution struct {
	Width  int
	Height int
}

// Variant is one encoding of the program at a given bitrate, as listed in
// the Multivariant Playlist.
type Variant struct {
	ID               uint32
	StableID         string
	URL              string
	Bandwidth        uint64
	AverageBandwidth *uint64
	Codecs           []string
	Resolution       *Resolution
	FrameRate        *float64
	HDRRange         string
	AudioGroupID     string
	SubtitleGroupID  string
	Score            float64
}

// Media is one alternative rendition (EXT-X-MEDIA): audio track, subtitle
// track or closed-caption track.
type Media struct {
	ID         uint32
	StableID   string
	Kind       MediaKind
	GroupID    string
	Name       string
	Language   string
	Channels   string
	AutoSelect bool
	Default    bool
	Forced     bool
	URL        *string // nil when multiplexed into the variant's own playlist.
}

// MultivariantContext carries the Multivariant-level attributes that
// override their Media Playlist counterparts when both are present.
type MultivariantContext struct {
	Start               *StartAttr
	IndependentSegments bool
}

// MultivariantPlaylist is the top-level HLS manifest.
type MultivariantPlaylist struct {
	URL         string
	Variants    []Variant // sorted by (Score, Bandwidth) ascending.
	AudioMedias []Media
	OtherMedias []Media // subtitles and closed-captions.
	Context     MultivariantContext
}

// InitSegment is an EXT-X-MAP entry: codec-configuration metadata required
// before any media segment that references it.
type InitSegment struct {
	URL       string
	ByteRange *ByteRange
	Start     float64 // start time of the earliest media segment using it.
}

// MediaSegment is one independently-fetchable media chunk. EXT-X-GAP
// segments never become a MediaSegment: the parser only advances the
// clock past them, so nothing downstream ever has to remember to skip one.
type MediaSegment struct {
	URL       string
	ByteRange *ByteRange
	StartTime float64
	Duration  float64
	InitIndex int // index into MediaPlaylist.InitSegments, or -1.
}

// MediaPlaylist is the per-rendition manifest listing initialization and
// media segments.
type MediaPlaylist struct {
	URL                 string
	TargetDuration       float64
	MediaSequence        uint64
	PlaylistType         PlaylistType
	IndependentSegments  bool
	EndList              bool
	IFramesOnly          bool
	Start                *StartAttr
	InitSegments         []InitSegment
	Segments             []MediaSegment
}

// MayBeRefreshed reports whether this playlist is still live, i.e. worth
// scheduling a refresh timer for.
func (p *MediaPlaylist) MayBeRefreshed() bool {
	return !p.EndList && p.PlaylistType == PlaylistTypeNone
}
