package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMediaPlaylistLive = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
seg0.mp4
#EXTINF:4.0,
seg1.mp4
`

const testMediaPlaylistVOD = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
seg0.mp4
#EXT-X-ENDLIST
`

func TestMaybeScheduleRefresh_LivePlaylistSchedulesTimerFromLastSegmentAndTarget(t *testing.T) {
	d, _, tm, _, _ := newTestDispatcher()
	d.Load("http://example.com/master.m3u8", StartingPosition{})
	d.OnRequestSucceeded("http://example.com/master.m3u8", []byte(testMultivariant), "http://example.com/master.m3u8", 0, 0)
	d.OnRequestSucceeded("http://example.com/video.m3u8", []byte(testMediaPlaylistLive), "http://example.com/video.m3u8", 0, 0)

	require.NotEmpty(t, tm.started)
	assert.Equal(t, 3*time.Second, tm.started[len(tm.started)-1])
}

func TestMaybeScheduleRefresh_VODPlaylistDoesNotScheduleATimer(t *testing.T) {
	d, _, tm, _, _ := newTestDispatcher()
	d.Load("http://example.com/master.m3u8", StartingPosition{})
	d.OnRequestSucceeded("http://example.com/master.m3u8", []byte(testMultivariant), "http://example.com/master.m3u8", 0, 0)
	d.OnRequestSucceeded("http://example.com/video.m3u8", []byte(testMediaPlaylistVOD), "http://example.com/video.m3u8", 0, 0)

	assert.Empty(t, tm.started)
}

func TestOnRefreshTimerElapsed_RefetchesMediaPlaylist(t *testing.T) {
	d, f, tm, _, _ := newTestDispatcher()
	d.Load("http://example.com/master.m3u8", StartingPosition{})
	d.OnRequestSucceeded("http://example.com/master.m3u8", []byte(testMultivariant), "http://example.com/master.m3u8", 0, 0)
	d.OnRequestSucceeded("http://example.com/video.m3u8", []byte(testMediaPlaylistLive), "http://example.com/video.m3u8", 0, 0)

	require.NotEmpty(t, tm.ids)
	before := len(f.fetched)
	d.OnTimerElapsed(tm.ids[len(tm.ids)-1])

	assert.Greater(t, len(f.fetched), before)
}

func TestOnRefreshTimerElapsed_StaleTimerIsIgnored(t *testing.T) {
	d, _, _, _, _ := newTestDispatcher()
	handled := d.onRefreshTimerElapsed("not-a-real-timer")
	assert.False(t, handled)
}
