package requester

import (
	"context"
	"sort"
	"time"

	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/playliststore"
)

// Config holds the per-category timeouts and backoff parameters. Callers
// translate it from the application's own configuration layer.
type Config struct {
	PlaylistTimeout time.Duration
	SegmentTimeout  time.Duration
	RetryBase       time.Duration
	RetryMax        time.Duration
}

type pendingRetry struct {
	segment  *SegmentRequest
	playlist *PlaylistRequest
}

// Requester is the scheduler: two queues (playlist, never queued;
// segment, priority-bucketed), per-category retry/backoff, duplicate
// detection and abort. It issues fetches through host.Fetcher and timers
// through host.TimerScheduler but never touches either directly from the
// caller's perspective beyond that.
type Requester struct {
	fetcher host.Fetcher
	timers  host.TimerScheduler
	random  host.RandomSource
	cfg     Config

	pendingPlaylist map[host.RequestID]*PlaylistRequest
	pendingSegment  map[host.MediaType]*SegmentRequest

	waiting  []WaitingSegmentInfo
	sequence uint64

	locked       bool
	basePosition *float64

	retryTimers map[host.TimerID]pendingRetry
}

// New constructs a Requester bound to the given host collaborators.
func New(fetcher host.Fetcher, timers host.TimerScheduler, random host.RandomSource, cfg Config) *Requester {
	return &Requester{
		fetcher:         fetcher,
		timers:          timers,
		random:          random,
		cfg:             cfg,
		pendingPlaylist: make(map[host.RequestID]*PlaylistRequest),
		pendingSegment:  make(map[host.MediaType]*SegmentRequest),
		retryTimers:     make(map[host.TimerID]pendingRetry),
	}
}

// RequestMultivariant issues an immediate Multivariant Playlist fetch.
func (r *Requester) RequestMultivariant(url string) host.RequestID {
	id := r.fetcher.Fetch(context.Background(), url, nil, r.cfg.PlaylistTimeout)
	r.pendingPlaylist[id] = &PlaylistRequest{ID: id, URL: url, Kind: PlaylistKindMultivariant}
	return id
}

// RequestMediaPlaylist issues an immediate Media Playlist fetch for the
// given permanent id.
func (r *Requester) RequestMediaPlaylist(url string, mediaType host.MediaType, permID playliststore.PermanentID) host.RequestID {
	id := r.fetcher.Fetch(context.Background(), url, nil, r.cfg.PlaylistTimeout)
	r.pendingPlaylist[id] = &PlaylistRequest{ID: id, URL: url, Kind: PlaylistKindMedia, MediaType: mediaType, PermanentID: permID}
	return id
}

// RequestMediaSegment either issues the fetch immediately or enqueues it
// in the waiting queue, per the priority-admission rule: it issues
// immediately when unlocked, no segment request of the same media type is
// pending, and either base_position is unset or the candidate's priority
// is at least as good as the best priority among pending segment requests
// of every media type. Returns the assigned request id if issued
// immediately.
func (r *Requester) RequestMediaSegment(info WaitingSegmentInfo) (host.RequestID, bool) {
	info.priority = priorityFor(r.basePosition, startOf(info.TimeInfo))
	info.sequence = r.sequence
	r.sequence++

	if !r.locked && r.admits(info.MediaType, info.priority) {
		id := r.issueSegment(info)
		return id, true
	}

	r.waiting = append(r.waiting, info)
	r.sortWaiting()
	return "", false
}

func startOf(t *TimeInfo) *float64 {
	if t == nil {
		return nil
	}
	s := t.Start
	return &s
}

// admits reports whether a new candidate of the given priority may be
// issued immediately: never while a request for that media type is
// pending; otherwise always when base_position is unset, and — once
// base_position is set — only when the candidate is at least as urgent as
// the most urgent request already pending across every media type (gating on the waiting queue instead would let
// a less-urgent request for one lane jump ahead of a more-urgent one
// in-flight for the other).
func (r *Requester) admits(mediaType host.MediaType, priority int) bool {
	if r.basePosition == nil {
		return r.pendingSegment[mediaType] == nil
	}
	if r.pendingSegment[mediaType] != nil {
		return false
	}
	minPending := r.minPendingPriority()
	return minPending == nil || priority <= *minPending
}

// minPendingPriority is the lowest (most urgent) priority among every
// in-flight segment request, across media types.
func (r *Requester) minPendingPriority() *int {
	var best *int
	for _, req := range r.pendingSegment {
		p := req.priority
		if best == nil || p < *best {
			v := p
			best = &v
		}
	}
	return best
}

// minPriorityForBase folds minPendingPriority together with every
// waiting request's priority, giving the bar a waiting request must
// clear to be flushed by Unlock/UpdateBasePosition.
func (r *Requester) minPriorityForBase() *int {
	best := r.minPendingPriority()
	for _, w := range r.waiting {
		if best == nil || w.priority < *best {
			v := w.priority
			best = &v
		}
	}
	return best
}

func (r *Requester) sortWaiting() {
	sort.SliceStable(r.waiting, func(i, j int) bool {
		if r.waiting[i].priority != r.waiting[j].priority {
			return r.waiting[i].priority < r.waiting[j].priority
		}
		return r.waiting[i].sequence < r.waiting[j].sequence
	})
}

func (r *Requester) issueSegment(info WaitingSegmentInfo) host.RequestID {
	id := r.fetcher.Fetch(context.Background(), info.URL, info.ByteRange, r.cfg.SegmentTimeout)
	req := &SegmentRequest{
		ID:             id,
		MediaType:      info.MediaType,
		URL:            info.URL,
		ByteRange:      info.ByteRange,
		TimeInfo:       info.TimeInfo,
		IsInit:         info.IsInit,
		AttemptsFailed: info.AttemptsFailed,
		Quality:        info.Quality,
		priority:       info.priority,
	}
	r.pendingSegment[info.MediaType] = req
	return id
}

// Lock forces every new RequestMediaSegment call into the waiting queue
// regardless of priority, so the dispatcher can batch several scheduling
// decisions before prioritization runs.
func (r *Requester) Lock() { r.locked = true }

// Unlock flushes every waiting request whose media type has no pending
// request and, once base_position is set, whose priority is at least as
// good as the minimum priority over pending and waiting requests of every
// media type.
func (r *Requester) Unlock() {
	r.locked = false
	r.flushWaiting()
}

func (r *Requester) flushWaiting() {
	if len(r.waiting) == 0 {
		return
	}

	if r.basePosition == nil {
		remaining := r.waiting[:0]
		for _, w := range r.waiting {
			if r.pendingSegment[w.MediaType] == nil {
				r.issueSegment(w)
				continue
			}
			remaining = append(remaining, w)
		}
		r.waiting = remaining
		return
	}

	newMin := r.minPriorityForBase()
	if newMin == nil {
		return
	}
	remaining := r.waiting[:0]
	for _, w := range r.waiting {
		if w.priority <= *newMin && r.pendingSegment[w.MediaType] == nil {
			r.issueSegment(w)
			continue
		}
		remaining = append(remaining, w)
	}
	r.waiting = remaining
}

// UpdateBasePosition changes the reference position priorities are
// computed against and re-evaluates the waiting queue.
func (r *Requester) UpdateBasePosition(pos *float64) {
	r.basePosition = pos
	for i := range r.waiting {
		r.waiting[i].priority = priorityFor(pos, startOf(r.waiting[i].TimeInfo))
	}
	r.sortWaiting()
	if !r.locked {
		r.flushWaiting()
	}
}

// IsRequestingSegment checks pending and waiting queues by full tuple
// equality, for duplicate-request suppression.
func (r *Requester) IsRequestingSegment(mediaType host.MediaType, url string, byteRange *host.ByteRange) bool {
	if req := r.pendingSegment[mediaType]; req != nil && req.URL == url && byteRangesEqual(req.ByteRange, byteRange) {
		return true
	}
	for _, w := range r.waiting {
		if w.MediaType == mediaType && w.URL == url && byteRangesEqual(w.ByteRange, byteRange) {
			return true
		}
	}
	return false
}

func byteRangesEqual(a, b *host.ByteRange) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// Abort cancels a pending or waiting request by id. Since waiting
// requests have no id, only pending (playlist or segment) requests can
// be aborted directly; callers abort waiting candidates by filtering them
// out via RemoveWaiting.
func (r *Requester) Abort(id host.RequestID) {
	r.fetcher.Abort(id)
	delete(r.pendingPlaylist, id)
	for mt, req := range r.pendingSegment {
		if req.ID == id {
			delete(r.pendingSegment, mt)
		}
	}
}

// AbortSegmentsBefore aborts every pending or waiting segment request of
// mediaType whose start time is before cutoff, per the seek-past-buffer
// scenario.
func (r *Requester) AbortSegmentsBefore(mediaType host.MediaType, cutoff float64) {
	if req, ok := r.pendingSegment[mediaType]; ok && req.TimeInfo != nil && req.TimeInfo.Start < cutoff {
		r.Abort(req.ID)
	}
	remaining := r.waiting[:0]
	for _, w := range r.waiting {
		if w.MediaType == mediaType && w.TimeInfo != nil && w.TimeInfo.Start < cutoff {
			continue
		}
		remaining = append(remaining, w)
	}
	r.waiting = remaining
}

// AbortAll cancels every pending or waiting segment request of mediaType,
// regardless of position, e.g. when a variant change makes the whole
// lane's in-flight work obsolete.
func (r *Requester) AbortAll(mediaType host.MediaType) {
	if req, ok := r.pendingSegment[mediaType]; ok {
		r.Abort(req.ID)
	}
	remaining := r.waiting[:0]
	for _, w := range r.waiting {
		if w.MediaType == mediaType {
			continue
		}
		remaining = append(remaining, w)
	}
	r.waiting = remaining
}

// EarliestMediaSegmentPending returns the start time of the earliest
// pending-or-waiting media segment request, used for live discontinuity
// skip logic.
func (r *Requester) EarliestMediaSegmentPending() *float64 {
	var best *float64
	consider := func(t *TimeInfo) {
		if t == nil {
			return
		}
		if best == nil || t.Start < *best {
			v := t.Start
			best = &v
		}
	}
	for _, req := range r.pendingSegment {
		consider(req.TimeInfo)
	}
	for _, w := range r.waiting {
		consider(w.TimeInfo)
	}
	return best
}

// OnPendingRequestSuccess resolves a completed request id into a typed
// outcome and clears it from the pending table.
func (r *Requester) OnPendingRequestSuccess(id host.RequestID) *SuccessOutcome {
	if p, ok := r.pendingPlaylist[id]; ok {
		delete(r.pendingPlaylist, id)
		return &SuccessOutcome{Playlist: p}
	}
	for mt, req := range r.pendingSegment {
		if req.ID == id {
			delete(r.pendingSegment, mt)
			return &SuccessOutcome{IsSegment: true, Segment: req}
		}
	}
	return nil
}

// OnPendingRequestFailure applies the retry policy and either schedules a
// backoff timer (returning a Retried* outcome) or declares the request
// fatal / not-found.
func (r *Requester) OnPendingRequestFailure(id host.RequestID, hadTimeout bool, status *int) *FailureOutcome {
	if p, ok := r.pendingPlaylist[id]; ok {
		delete(r.pendingPlaylist, id)
		return r.failPlaylist(p, hadTimeout, status)
	}
	for mt, req := range r.pendingSegment {
		if req.ID == id {
			delete(r.pendingSegment, mt)
			return r.failSegment(req, hadTimeout, status)
		}
	}
	return &FailureOutcome{Kind: FailureNotFound}
}

func (r *Requester) failPlaylist(p *PlaylistRequest, hadTimeout bool, status *int) *FailureOutcome {
	p.AttemptsFailed++
	if !(hadTimeout || isRetriableStatus(status)) || p.AttemptsFailed >= maxAttempts {
		return &FailureOutcome{Kind: FailureFatal, Playlist: p}
	}
	delay := backoffDelay(host.RetryBackoff{Base: r.cfg.RetryBase, Max: r.cfg.RetryMax}, p.AttemptsFailed, r.random)
	timerID := r.timers.Start(delay, host.TimerReasonRetryRequest)
	p.WaitingForRetry = true
	r.retryTimers[timerID] = pendingRetry{playlist: p}
	return &FailureOutcome{Kind: FailureRetriedPlaylist, Playlist: p}
}

func (r *Requester) failSegment(s *SegmentRequest, hadTimeout bool, status *int) *FailureOutcome {
	s.AttemptsFailed++
	if !(hadTimeout || isRetriableStatus(status)) || s.AttemptsFailed >= maxAttempts {
		return &FailureOutcome{Kind: FailureFatal, Segment: s}
	}
	delay := backoffDelay(host.RetryBackoff{Base: r.cfg.RetryBase, Max: r.cfg.RetryMax}, s.AttemptsFailed, r.random)
	timerID := r.timers.Start(delay, host.TimerReasonRetryRequest)
	s.WaitingForRetry = true
	r.retryTimers[timerID] = pendingRetry{segment: s}
	return &FailureOutcome{Kind: FailureRetriedSegment, Segment: s}
}

// HandleTimerElapsed reissues a retry if id belongs to this Requester,
// returning the new request id. ok is false if the timer wasn't a
// retry timer owned by this Requester (e.g. a playlist-refresh timer,
// which the dispatcher owns directly).
func (r *Requester) HandleTimerElapsed(id host.TimerID) (host.RequestID, bool) {
	retry, ok := r.retryTimers[id]
	if !ok {
		return "", false
	}
	delete(r.retryTimers, id)

	if retry.playlist != nil {
		p := retry.playlist
		newID := r.fetcher.Fetch(context.Background(), p.URL, nil, r.cfg.PlaylistTimeout)
		p.ID = newID
		p.WaitingForRetry = false
		r.pendingPlaylist[newID] = p
		return newID, true
	}

	s := retry.segment
	newID := r.fetcher.Fetch(context.Background(), s.URL, s.ByteRange, r.cfg.SegmentTimeout)
	s.ID = newID
	s.WaitingForRetry = false
	r.pendingSegment[s.MediaType] = s
	return newID, true
}

// Stop cancels every pending request and retry timer.
func (r *Requester) Stop() {
	for id := range r.pendingPlaylist {
		r.fetcher.Abort(id)
	}
	for _, req := range r.pendingSegment {
		r.fetcher.Abort(req.ID)
	}
	for timerID := range r.retryTimers {
		r.timers.Clear(timerID)
	}
	r.pendingPlaylist = make(map[host.RequestID]*PlaylistRequest)
	r.pendingSegment = make(map[host.MediaType]*SegmentRequest)
	r.retryTimers = make(map[host.TimerID]pendingRetry)
	r.waiting = nil
	r.locked = false
	r.basePosition = nil
}
