package host

import (
	"context"
	"time"
)

// Fetcher performs the actual network GETs. Fetch must return immediately
// with a RequestID; outcomes are reported asynchronously to the EngineSink
// the implementation was constructed with, never returned from Fetch
// itself. Abort is fire-and-forget: no further callback fires for id.
type Fetcher interface {
	Fetch(ctx context.Context, url string, byteRange *ByteRange, timeout time.Duration) RequestID
	Abort(id RequestID)
}

// TimerScheduler schedules one-shot timers. Elapse is reported to the
// EngineSink asynchronously.
type TimerScheduler interface {
	Start(d time.Duration, reason TimerReason) TimerID
	Clear(id TimerID)
}

// MediaSourceHost is the platform media-source/source-buffer lifecycle.
// The facade is the sole caller.
type MediaSourceHost interface {
	AttachMediaSource() error
	RemoveMediaSource()
	SetMediaSourceDuration(seconds float64)
	AddSourceBuffer(mediaType MediaType, mime string) (SourceBufferID, *AddSourceBufferError)
	AppendBuffer(sb SourceBufferID, resourceID string, data []byte, wantParseTimeInfo bool) (*AppendResult, *AppendBufferError)
	RemoveBuffer(sb SourceBufferID, start, end float64) error
	Flush(sb SourceBufferID) error
	EndOfStream() error
	IsClosed() bool
}

// CodecSupportProbe answers whether a (media_type, mime) pair will decode.
// A Pending answer is followed later by a call into EngineSink.OnCodecSupportUpdate.
type CodecSupportProbe interface {
	IsTypeSupported(mediaType MediaType, mime string) CodecSupport
}

// MediaElementControl is the subset of HTMLMediaElement-like controls the
// facade drives directly; current time and ready state flow the other way
// via MediaObservation.
type MediaElementControl interface {
	Seek(mediaPosition float64)
	SetPlaybackRate(rate float64)
	SetMediaOffset(seconds float64)
	StartObservingPlayback()
	StopObservingPlayback()
}

// RandomSource supplies the uniform [0,1) draws used for retry jitter.
type RandomSource interface {
	Float64() float64
}

// ErrorReporter is how fatal/non-fatal conditions reach the embedder for
// observability; it never influences control flow itself.
type ErrorReporter interface {
	ReportFatal(err error)
	ReportNonFatal(err error)
}

// EngineSink is how the asynchronous host-side collaborators (Fetcher,
// TimerScheduler, CodecSupportProbe, the platform media element) drive
// results back into the engine. The dispatcher implements this; fetcher/
// timer/media-source-host implementations hold one to call back into.
type EngineSink interface {
	OnRequestSucceeded(id RequestID, blob []byte, finalURL string, size int64, durationMs float64)
	OnRequestFailed(id RequestID, timedOut bool, status *int)
	OnTimerElapsed(id TimerID)
	OnCodecSupportUpdate()
	OnObservation(obs MediaObservation)
}
