// Package mediaelement sequences asynchronous append/remove/flush calls
// on the platform's per-media-type source buffers and keeps a segment
// inventory synchronized with what the buffer actually holds. It
// translates between "playlist time" and "media-element time" and
// detects rebuffering.
package mediaelement

import (
	"math"

	"github.com/oklog/ulid/v2"

	"github.com/avalon-stream/hlsplay/internal/host"
)

// BufferFullHost is implemented by the dispatcher to carry out the part
// of the BufferFull recovery policy that only it can: rewinding the
// affected lane's segment selector so the evicted region gets re-fetched
// through the normal scheduling loop.
type BufferFullHost interface {
	RestartSelectorNear(mediaType host.MediaType, position float64)
}

type opKind int

const (
	opAppend opKind = iota
	opRemove
	opFlush
)

type queuedOp struct {
	kind       opKind
	resourceID string
	data       []byte
	chunkID    ulid.ULID
	meta       NewChunkMetadata
	removeFrom float64
	removeTo   float64
}

type bufferLane struct {
	mediaType host.MediaType
	sbID      host.SourceBufferID
	inventory *Inventory
	queue     []queuedOp
	busy      bool

	lastSegmentPushed bool
}

// Facade owns at most one source buffer per media kind and serializes
// every append/remove/flush call issued against it.
type Facade struct {
	msHost  host.MediaSourceHost
	control host.MediaElementControl
	report  host.ErrorReporter

	lanes map[host.MediaType]*bufferLane

	mediaOffset *float64
	queuedSeek  *float64

	rebuffering   bool
	minBufferTime float64 // seconds; 3 <= target_duration-1 <= 8.
	bufferGoal    float64 // seconds of lookahead; widens the BufferFull eviction window.
	lastGap       float64
	lastGapOK     bool

	bufferFullHost BufferFullHost

	lastObservation *host.MediaObservation
}

// New constructs a Facade bound to the platform media-source host.
func New(msHost host.MediaSourceHost, control host.MediaElementControl, report host.ErrorReporter) *Facade {
	return &Facade{
		msHost:        msHost,
		control:       control,
		report:        report,
		lanes:         make(map[host.MediaType]*bufferLane),
		minBufferTime: 3,
		bufferGoal:    30,
	}
}

// SetBufferGoal updates the lookahead target used to size the BufferFull
// eviction window.
func (f *Facade) SetBufferGoal(seconds float64) {
	f.bufferGoal = seconds
}

// SetBufferFullHost wires the collaborator that restarts a lane's
// selector as part of BufferFull recovery.
func (f *Facade) SetBufferFullHost(h BufferFullHost) {
	f.bufferFullHost = h
}

// CreateSourceBuffer adds a platform source buffer for mediaType and
// starts tracking its inventory. Fatal on error.
func (f *Facade) CreateSourceBuffer(mediaType host.MediaType, mime string) error {
	sbID, errCode := f.msHost.AddSourceBuffer(mediaType, mime)
	if errCode != nil {
		return &SourceBufferCreationError{MediaType: mediaType, Code: *errCode}
	}
	f.lanes[mediaType] = &bufferLane{
		mediaType: mediaType,
		sbID:      sbID,
		inventory: NewInventory(mediaType),
	}
	return nil
}

// HasLane reports whether a source buffer has been created for mediaType.
func (f *Facade) HasLane(mediaType host.MediaType) bool {
	_, ok := f.lanes[mediaType]
	return ok
}

// Inventory exposes the segment inventory for a media lane.
func (f *Facade) Inventory(mediaType host.MediaType) *Inventory {
	lane, ok := f.lanes[mediaType]
	if !ok {
		return nil
	}
	return lane.inventory
}

// AnnounceIncomingSegment registers a segment about to be pushed in the
// inventory and enqueues the append. The append only actually reaches the
// platform buffer once prior queued operations on this lane complete.
func (f *Facade) AnnounceIncomingSegment(mediaType host.MediaType, resourceID string, data []byte, meta NewChunkMetadata, isLastSegment bool) ulid.ULID {
	lane, ok := f.lanes[mediaType]
	if !ok {
		return ulid.ULID{}
	}
	id := lane.inventory.Insert(meta)
	lane.queue = append(lane.queue, queuedOp{kind: opAppend, resourceID: resourceID, data: data, chunkID: id, meta: meta})
	if isLastSegment {
		lane.lastSegmentPushed = true
	}
	f.pump(lane)
	return id
}

// EnqueueRemove queues a remove_buffer call on the given lane.
func (f *Facade) EnqueueRemove(mediaType host.MediaType, from, to float64) {
	lane, ok := f.lanes[mediaType]
	if !ok {
		return
	}
	lane.queue = append(lane.queue, queuedOp{kind: opRemove, removeFrom: from, removeTo: to})
	f.pump(lane)
}

// EnqueueFlush queues a flush (discard everything) call on the given lane
// and resets its inventory.
func (f *Facade) EnqueueFlush(mediaType host.MediaType) {
	lane, ok := f.lanes[mediaType]
	if !ok {
		return
	}
	lane.queue = append(lane.queue, queuedOp{kind: opFlush})
	f.pump(lane)
}

// pump dispatches the next queued operation on lane if it isn't already
// waiting on one; the platform buffer is inherently single-threaded so at
// most one call is ever outstanding per lane.
func (f *Facade) pump(lane *bufferLane) {
	if lane.busy || len(lane.queue) == 0 {
		return
	}
	op := lane.queue[0]
	lane.busy = true

	switch op.kind {
	case opAppend:
		result, errCode := f.msHost.AppendBuffer(lane.sbID, op.resourceID, op.data, f.mediaOffset == nil)
		f.onAppendDone(lane, op, result, errCode)
	case opRemove:
		if err := f.msHost.RemoveBuffer(lane.sbID, op.removeFrom, op.removeTo); err != nil {
			f.report.ReportFatal(err)
		}
		f.opDone(lane)
	case opFlush:
		if err := f.msHost.Flush(lane.sbID); err != nil {
			f.report.ReportFatal(err)
		}
		lane.inventory.Reset()
		f.opDone(lane)
	}
}

func (f *Facade) opDone(lane *bufferLane) {
	lane.busy = false
	lane.queue = lane.queue[1:]
	f.pump(lane)
	f.checkEndOfStream()
}

func (f *Facade) onAppendDone(lane *bufferLane, op queuedOp, result *host.AppendResult, errCode *host.AppendBufferError) {
	if errCode != nil {
		if *errCode == host.ErrBufferFull {
			if f.recoverFromBufferFull(lane) {
				f.report.ReportNonFatal(&BufferFullError{MediaType: lane.mediaType})
			} else {
				f.report.ReportFatal(&BufferFullError{MediaType: lane.mediaType})
			}
		} else {
			f.report.ReportFatal(&AppendBufferFailure{MediaType: lane.mediaType, Code: *errCode})
		}
		f.opDone(lane)
		return
	}

	if f.mediaOffset == nil && result != nil && result.Start != nil {
		offset := *result.Start - op.meta.PlaylistStart
		f.mediaOffset = &offset
		f.control.SetMediaOffset(offset)
		f.flushQueuedSeek()
	}

	f.opDone(lane)
}

// recoverFromBufferFull implements the append-error eviction policy: if
// any inventory entry for this lane lies outside
// [wanted-10, wanted+buffer_goal+10], queue removes on both tails and
// rewind the lane's selector to just behind the wanted position so the
// evicted region is re-fetched. Reports false (fatal) only when no such
// entry exists.
func (f *Facade) recoverFromBufferFull(lane *bufferLane) bool {
	if f.bufferFullHost == nil {
		return false
	}
	wanted := f.WantedPosition()
	low := wanted - 10
	high := wanted + f.bufferGoal + 10

	evictable := false
	for _, c := range lane.inventory.Chunks() {
		if c.End <= low || c.Start >= high {
			evictable = true
			break
		}
	}
	if !evictable {
		return false
	}

	if low > 0 {
		f.EnqueueRemove(lane.mediaType, 0, low)
	}
	f.EnqueueRemove(lane.mediaType, high, math.Inf(1))

	restart := wanted - 0.2
	if restart < 0 {
		restart = 0
	}
	f.bufferFullHost.RestartSelectorNear(lane.mediaType, restart)
	return true
}

func (f *Facade) flushQueuedSeek() {
	if f.queuedSeek == nil || f.mediaOffset == nil {
		return
	}
	if f.lastObservation == nil || f.lastObservation.ReadyState < 1 {
		return
	}
	f.control.Seek(f.PlaylistToMediaPos(*f.queuedSeek))
	f.queuedSeek = nil
}

// Seek converts a wanted playlist-time position to media time and issues
// it immediately if the offset and ready state allow; otherwise it's
// held until both become available.
func (f *Facade) Seek(playlistPosition float64) {
	f.queuedSeek = &playlistPosition
	f.flushQueuedSeek()
}

// PlaylistToMediaPos / MediaToPlaylistPos convert between the two
// timelines via the once-set media_offset; callers must not invoke these
// before the offset is known.
func (f *Facade) PlaylistToMediaPos(playlistPos float64) float64 {
	if f.mediaOffset == nil {
		return playlistPos
	}
	return playlistPos + *f.mediaOffset
}

func (f *Facade) MediaToPlaylistPos(mediaPos float64) float64 {
	if f.mediaOffset == nil {
		return mediaPos
	}
	return mediaPos - *f.mediaOffset
}

// MediaOffset returns the media<->playlist conversion constant, if known.
func (f *Facade) MediaOffset() *float64 { return f.mediaOffset }

// WantedPosition is the playlist-time position playback should be at:
// a pending queued seek, else the last observation converted through the
// offset, else 0.
func (f *Facade) WantedPosition() float64 {
	if f.queuedSeek != nil {
		return *f.queuedSeek
	}
	if f.lastObservation != nil {
		return f.MediaToPlaylistPos(f.lastObservation.CurrentTime)
	}
	return 0
}

// SetMinBufferTime updates the rebuffering-exit threshold to
// target_duration-1, clamped to [3, 8].
func (f *Facade) SetMinBufferTime(targetDuration float64) {
	v := targetDuration - 1
	if v < 3 {
		v = 3
	}
	if v > 8 {
		v = 8
	}
	f.minBufferTime = v
}

func (f *Facade) checkEndOfStream() {
	if f.msHost.IsClosed() {
		return
	}
	for _, lane := range f.lanes {
		if !lane.lastSegmentPushed || len(lane.queue) > 0 {
			return
		}
	}
	if len(f.lanes) == 0 {
		return
	}
	if err := f.msHost.EndOfStream(); err != nil {
		f.report.ReportFatal(err)
	}
}

// Stop clears every lane, its queue and inventory.
func (f *Facade) Stop() {
	f.lanes = make(map[host.MediaType]*bufferLane)
	f.mediaOffset = nil
	f.queuedSeek = nil
	f.rebuffering = false
	f.lastObservation = nil
}
