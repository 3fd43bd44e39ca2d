package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:100
#EXT-X-MAP:URI="init.mp4"
#EXTINF:6.0,
seg100.mp4
#EXTINF:6.0,
seg101.mp4
#EXT-X-GAP
#EXTINF:6.0,
seg102.mp4
#EXTINF:6.006,
seg103.mp4
`

func TestParseMediaPlaylist_AccumulatesStartTimes(t *testing.T) {
	mp, err := ParseMediaPlaylist([]byte(sampleMediaPlaylist), "http://example.com/media.m3u8", nil, nil)
	require.NoError(t, err)
	// seg102.mp4 is marked GAP and never becomes a segment; the clock
	// still advances past its duration so seg103.mp4 lands at 18s.
	require.Len(t, mp.Segments, 3)
	assert.InDelta(t, 0.0, mp.Segments[0].StartTime, 0.0001)
	assert.InDelta(t, 6.0, mp.Segments[1].StartTime, 0.0001)
	assert.InDelta(t, 18.0, mp.Segments[2].StartTime, 0.0001)
}

func TestParseMediaPlaylist_ProgramDateTimeResetsClock(t *testing.T) {
	data := "#EXTM3U\n#EXT-X-TARGETDURATION:6\n" +
		"#EXTINF:6.0,\nseg0.mp4\n" +
		"#EXT-X-PROGRAM-DATE-TIME:2020-01-01T00:00:10Z\n" +
		"#EXTINF:6.0,\nseg1.mp4\n"
	mp, err := ParseMediaPlaylist([]byte(data), "http://example.com/media.m3u8", nil, nil)
	require.NoError(t, err)
	require.Len(t, mp.Segments, 2)
	assert.InDelta(t, 0.0, mp.Segments[0].StartTime, 0.0001)
	want := float64(time.Date(2020, 1, 1, 0, 0, 10, 0, time.UTC).Unix())
	assert.InDelta(t, want, mp.Segments[1].StartTime, 0.0001)
}

func TestParseMediaPlaylist_InitSegmentAttachedToFollowingSegments(t *testing.T) {
	mp, err := ParseMediaPlaylist([]byte(sampleMediaPlaylist), "http://example.com/media.m3u8", nil, nil)
	require.NoError(t, err)
	require.Len(t, mp.InitSegments, 1)
	for _, seg := range mp.Segments {
		assert.Equal(t, 0, seg.InitIndex)
	}
}

func TestParseMediaPlaylist_MissingTargetDuration(t *testing.T) {
	_, err := ParseMediaPlaylist([]byte("#EXTM3U\n#EXTINF:6,\nseg.mp4\n"), "http://example.com/media.m3u8", nil, nil)
	require.Error(t, err)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ErrMissingTargetDuration, perr.Code)
}

func TestParseMediaPlaylist_UriWithoutExtInf(t *testing.T) {
	data := "#EXTM3U\n#EXT-X-TARGETDURATION:6\nseg.mp4\n"
	_, err := ParseMediaPlaylist([]byte(data), "http://example.com/media.m3u8", nil, nil)
	require.Error(t, err)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ErrUriWithoutExtInf, perr.Code)
}

func TestParseMediaPlaylist_ByteRangeContinuation(t *testing.T) {
	data := "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6,\n#EXT-X-BYTERANGE:1000@0\nseg.ts\n#EXTINF:6,\n#EXT-X-BYTERANGE:500\nseg.ts\n"
	mp, err := ParseMediaPlaylist([]byte(data), "http://example.com/media.m3u8", nil, nil)
	require.NoError(t, err)
	require.Len(t, mp.Segments, 2)
	require.NotNil(t, mp.Segments[1].ByteRange)
	assert.Equal(t, int64(1000), mp.Segments[1].ByteRange.Offset)
	assert.Equal(t, int64(500), mp.Segments[1].ByteRange.Length)
}

func TestParseMediaPlaylist_EndListAndPlaylistType(t *testing.T) {
	data := "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXT-X-PLAYLIST-TYPE:VOD\n#EXTINF:6,\nseg.mp4\n#EXT-X-ENDLIST\n"
	mp, err := ParseMediaPlaylist([]byte(data), "http://example.com/media.m3u8", nil, nil)
	require.NoError(t, err)
	assert.True(t, mp.EndList)
	assert.Equal(t, PlaylistTypeVoD, mp.PlaylistType)
	assert.False(t, mp.MayBeRefreshed())
}

func TestParseMediaPlaylist_InitSegmentKeepsStartAcrossRefresh(t *testing.T) {
	first, err := ParseMediaPlaylist([]byte(sampleMediaPlaylist), "http://example.com/media.m3u8", nil, nil)
	require.NoError(t, err)

	refreshed := "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXT-X-MEDIA-SEQUENCE:101\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:6.0,\nseg101.mp4\n"
	second, err := ParseMediaPlaylist([]byte(refreshed), "http://example.com/media.m3u8", first, nil)
	require.NoError(t, err)

	require.Len(t, second.InitSegments, 1)
	assert.InDelta(t, first.InitSegments[0].Start, second.InitSegments[0].Start, 0.0001)
}

func TestParseMediaPlaylist_MultivariantStartOverridesOwn(t *testing.T) {
	data := "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXT-X-START:TIME-OFFSET=5\n#EXTINF:6,\nseg.mp4\n"
	mvCtx := &MultivariantContext{Start: &StartAttr{Offset: 20, Precise: true}}
	mp, err := ParseMediaPlaylist([]byte(data), "http://example.com/media.m3u8", nil, mvCtx)
	require.NoError(t, err)
	require.NotNil(t, mp.Start)
	assert.InDelta(t, 20.0, mp.Start.Offset, 0.0001)
}
