// Package mediasource implements host.MediaSourceHost with an in-memory
// byte-accounting source buffer. There is no real container demuxer or
// renderer behind it (out of scope, same as elsewhere in this tree);
// instead it tracks how many bytes each lane has buffered and enforces a
// configurable cap, which is enough to drive the BufferFull recovery path
// end to end without a platform media element.
package mediasource

import (
	"errors"
	"strconv"
	"sync"

	"github.com/avalon-stream/hlsplay/internal/host"
)

// Config tunes the byte-accounting behind each source buffer.
type Config struct {
	// MaxBufferBytes caps how much data a single source buffer may hold
	// before AppendBuffer starts reporting host.ErrBufferFull.
	MaxBufferBytes int64
	// BytesPerSecond converts a RemoveBuffer(start, end) span into a byte
	// count to evict from the oldest appended chunks, since this fake has
	// no real per-chunk timing to key eviction on directly.
	BytesPerSecond float64
}

// DefaultConfig returns a generous cap suitable for a single playback
// session at typical segment bitrates.
func DefaultConfig() Config {
	return Config{
		MaxBufferBytes: 48 << 20, // 48MiB per lane.
		BytesPerSecond: 1_500_000 / 8,
	}
}

var errUnknownSourceBuffer = errors.New("mediasource: unknown source buffer id")

type chunkRecord struct {
	bytes int64
}

type sourceBuffer struct {
	mime      string
	mediaType host.MediaType
	chunks    []chunkRecord
	bytesUsed int64
}

// MediaSource is an in-process stand-in for the platform MediaSource +
// SourceBuffer pair the engine drives through host.MediaSourceHost.
type MediaSource struct {
	cfg Config

	mu       sync.Mutex
	attached bool
	closed   bool
	duration float64
	next     int
	buffers  map[host.SourceBufferID]*sourceBuffer
}

// New builds a MediaSource; it starts detached, matching the platform
// lifecycle where AttachMediaSource must run before source buffers exist.
func New(cfg Config) *MediaSource {
	return &MediaSource{
		cfg:     cfg,
		closed:  true,
		buffers: make(map[host.SourceBufferID]*sourceBuffer),
	}
}

// AttachMediaSource implements host.MediaSourceHost.
func (m *MediaSource) AttachMediaSource() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached = true
	m.closed = false
	return nil
}

// RemoveMediaSource implements host.MediaSourceHost.
func (m *MediaSource) RemoveMediaSource() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attached = false
	m.closed = true
	m.buffers = make(map[host.SourceBufferID]*sourceBuffer)
}

// SetMediaSourceDuration implements host.MediaSourceHost.
func (m *MediaSource) SetMediaSourceDuration(seconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duration = seconds
}

// Duration returns the duration last set, for status surfaces.
func (m *MediaSource) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

// AddSourceBuffer implements host.MediaSourceHost.
func (m *MediaSource) AddSourceBuffer(mediaType host.MediaType, mime string) (host.SourceBufferID, *host.AddSourceBufferError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.attached {
		err := host.ErrNoMediaSourceAttached
		return "", &err
	}
	if m.closed {
		err := host.ErrMediaSourceIsClosed
		return "", &err
	}
	if mime == "" {
		err := host.ErrEmptyMimeType
		return "", &err
	}

	m.next++
	id := host.SourceBufferID(mediaType.String() + "-" + strconv.Itoa(m.next))
	m.buffers[id] = &sourceBuffer{mime: mime, mediaType: mediaType}
	return id, nil
}

// AppendBuffer implements host.MediaSourceHost. It never parses timing
// information out of data (no container parser here), so when
// wantParseTimeInfo is true the returned AppendResult always has nil
// Start/Duration.
func (m *MediaSource) AppendBuffer(sb host.SourceBufferID, resourceID string, data []byte, wantParseTimeInfo bool) (*host.AppendResult, *host.AppendBufferError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, ok := m.buffers[sb]
	if !ok {
		err := host.ErrNoSourceBuffer
		return nil, &err
	}

	size := int64(len(data))
	if buf.bytesUsed+size > m.cfg.MaxBufferBytes {
		err := host.ErrBufferFull
		return nil, &err
	}

	buf.chunks = append(buf.chunks, chunkRecord{bytes: size})
	buf.bytesUsed += size

	if !wantParseTimeInfo {
		return nil, nil
	}
	return &host.AppendResult{}, nil
}

// RemoveBuffer implements host.MediaSourceHost. It evicts bytes from the
// oldest chunks first, proportional to the requested [start, end) span.
func (m *MediaSource) RemoveBuffer(sb host.SourceBufferID, start, end float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, ok := m.buffers[sb]
	if !ok {
		return errUnknownSourceBuffer
	}
	if end <= start {
		return nil
	}

	toFree := int64((end - start) * m.cfg.BytesPerSecond)
	for toFree > 0 && len(buf.chunks) > 0 {
		head := buf.chunks[0]
		if head.bytes <= toFree {
			toFree -= head.bytes
			buf.bytesUsed -= head.bytes
			buf.chunks = buf.chunks[1:]
			continue
		}
		buf.chunks[0].bytes -= toFree
		buf.bytesUsed -= toFree
		toFree = 0
	}
	return nil
}

// Flush implements host.MediaSourceHost: discards everything buffered.
func (m *MediaSource) Flush(sb host.SourceBufferID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, ok := m.buffers[sb]
	if !ok {
		return errUnknownSourceBuffer
	}
	buf.chunks = nil
	buf.bytesUsed = 0
	return nil
}

// EndOfStream implements host.MediaSourceHost.
func (m *MediaSource) EndOfStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.attached {
		return errors.New("mediasource: end of stream with no media source attached")
	}
	return nil
}

// IsClosed implements host.MediaSourceHost.
func (m *MediaSource) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// BytesBuffered reports the current occupancy of a lane, for status
// surfaces and tests.
func (m *MediaSource) BytesBuffered(sb host.SourceBufferID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if buf, ok := m.buffers[sb]; ok {
		return buf.bytesUsed
	}
	return 0
}
