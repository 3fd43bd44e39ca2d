// Package playliststore holds the parsed Multivariant Playlist tree,
// tracks the currently-selected variant and audio track, and resolves
// permanent Media-Playlist identifiers that survive a Multivariant
// refresh even though the underlying parse-time ids do not.
package playliststore

import (
	"fmt"
	"sort"

	"github.com/avalon-stream/hlsplay/internal/host"
	"github.com/avalon-stream/hlsplay/internal/parser"
)

// Location tags which half of the Multivariant tree a PermanentID points
// into.
type Location int

const (
	LocationVariant Location = iota
	LocationAudioTrack
	LocationOtherMedia
)

// PermanentID is the dispatcher's handle on a Media Playlist. When the
// Multivariant Playlist declares a STABLE-VARIANT-ID / STABLE-RENDITION-ID
// that string is the identity, stable across a Multivariant refresh; most
// streams don't declare one, so Index — the variant/media's position in
// the parse-time array — is the fallback identity instead. Index is only
// meaningful when StableID is empty.
type PermanentID struct {
	Location Location
	StableID string
	Index    int
}

func (p PermanentID) String() string {
	loc := "variant"
	switch p.Location {
	case LocationAudioTrack:
		loc = "audio"
	case LocationOtherMedia:
		loc = "other"
	}
	if p.StableID != "" {
		return fmt.Sprintf("%s:%s", loc, p.StableID)
	}
	return fmt.Sprintf("%s:#%d", loc, p.Index)
}

// VariantUpdateResult is the outcome of UpdateCurrBandwidth.
type VariantUpdateResult int

const (
	ResultUnchanged VariantUpdateResult = iota
	ResultImproved
	ResultWorsened
	ResultEqualOrUnknown
)

// VariantUpdate reports the new selection and which media lanes actually
// changed Media-Playlist identity as a result.
type VariantUpdate struct {
	Result            VariantUpdateResult
	ChangedMediaTypes []host.MediaType
}

// SegmentQualityContext lets two buffered regions be compared for quality
// even across a variant change, as long as they share the same rendition.
type SegmentQualityContext struct {
	VariantScore    float64
	MediaPlaylistID PermanentID
}

// CodecStatus is the result of CheckCodecs.
type CodecStatus int

const (
	CodecStatusPending CodecStatus = iota
	CodecStatusReady
)

// ErrNoVariantWithID is returned by LockVariant for an unknown stable id.
type ErrNoVariantWithID struct{ ID string }

func (e *ErrNoVariantWithID) Error() string { return fmt.Sprintf("no variant with id %q", e.ID) }

// ErrNoSupportedVariant is fatal: codec probing completed with zero
// playable variants.
var ErrNoSupportedVariant = fmt.Errorf("no supported variant")

// Store owns the parsed Multivariant tree and current selection state.
type Store struct {
	mv    *parser.MultivariantPlaylist
	probe host.CodecSupportProbe

	mediaPlaylists map[PermanentID]*parser.MediaPlaylist

	codecStatus  CodecStatus
	supportedIdx map[int]bool // index into mv.Variants

	currentVariantIdx int
	variantLocked     bool
	currentAudioIdx   int // index into mv.AudioMedias; -1 = none/multiplexed
}

// New constructs a Store around a freshly-parsed Multivariant Playlist,
// picking the initial variant by the highest bandwidth not exceeding
// initialBandwidthEstimate, falling back to the lowest if all exceed it.
func New(mv *parser.MultivariantPlaylist, probe host.CodecSupportProbe, initialBandwidthEstimate uint64) *Store {
	s := &Store{
		mv:             mv,
		probe:          probe,
		mediaPlaylists: make(map[PermanentID]*parser.MediaPlaylist),
	}
	s.currentVariantIdx = initialVariantIndex(mv.Variants, initialBandwidthEstimate)
	s.currentAudioIdx = s.defaultAudioIdxFor(s.currentVariantIdx)
	return s
}

func initialVariantIndex(variants []parser.Variant, bps uint64) int {
	if len(variants) == 0 {
		return -1
	}
	best := -1
	for i, v := range variants {
		if v.Bandwidth <= bps {
			if best == -1 || variants[i].Bandwidth > variants[best].Bandwidth {
				best = i
			}
		}
	}
	if best == -1 {
		return 0 // all exceed estimate: fall back to the lowest (sorted ascending).
	}
	return best
}

// CheckCodecs queries the probe for every variant's audio/video codecs.
// Variants with any pending codec are reported Pending; once every probe
// has resolved the result is Ready, failing fatally if zero variants
// ended up supported.
func (s *Store) CheckCodecs() (CodecStatus, error) {
	s.supportedIdx = make(map[int]bool)
	pending := false
	supportedCount := 0

	for i, v := range s.mv.Variants {
		audio, video := parser.CodecsByKind(v.Codecs)
		ok, isPending := s.probeAll(host.MediaTypeVideo, video)
		if isPending {
			pending = true
			continue
		}
		okA, isPendingA := s.probeAll(host.MediaTypeAudio, audio)
		if isPendingA {
			pending = true
			continue
		}
		if ok && okA {
			s.supportedIdx[i] = true
			supportedCount++
		}
	}

	if pending {
		s.codecStatus = CodecStatusPending
		return CodecStatusPending, nil
	}
	s.codecStatus = CodecStatusReady
	if supportedCount == 0 {
		return CodecStatusReady, ErrNoSupportedVariant
	}
	return CodecStatusReady, nil
}

func (s *Store) probeAll(mediaType host.MediaType, codecs []string) (supported, pending bool) {
	if len(codecs) == 0 {
		return true, false
	}
	supported = true
	for _, c := range codecs {
		mime := mimeForCodecProbe(mediaType, c)
		switch s.probe.IsTypeSupported(mediaType, mime) {
		case host.CodecSupportPending:
			return false, true
		case host.CodecSupportFalse:
			supported = false
		}
	}
	return supported, false
}

func mimeForCodecProbe(mediaType host.MediaType, codec string) string {
	if mediaType == host.MediaTypeAudio {
		return `audio/mp4; codecs="` + codec + `"`
	}
	return `video/mp4; codecs="` + codec + `"`
}

func (s *Store) isSupported(idx int) bool {
	if s.supportedIdx == nil {
		return true // codecs not checked yet: treat every variant as eligible.
	}
	return s.supportedIdx[idx]
}

// UpdateCurrBandwidth selects the highest-bandwidth supported variant with
// bandwidth <= bps, falling back to the lowest supported variant if none
// qualify. A locked variant never changes regardless of bps.
func (s *Store) UpdateCurrBandwidth(bps uint64) VariantUpdate {
	if s.variantLocked {
		return VariantUpdate{Result: ResultUnchanged}
	}

	candidate := -1
	lowestSupported := -1
	for i, v := range s.mv.Variants {
		if !s.isSupported(i) {
			continue
		}
		if lowestSupported == -1 {
			lowestSupported = i
		}
		if v.Bandwidth <= bps {
			if candidate == -1 || v.Bandwidth > s.mv.Variants[candidate].Bandwidth {
				candidate = i
			}
		}
	}
	if candidate == -1 {
		candidate = lowestSupported
	}
	if candidate == -1 {
		return VariantUpdate{Result: ResultEqualOrUnknown}
	}

	return s.applyVariantChange(candidate)
}

func (s *Store) applyVariantChange(newIdx int) VariantUpdate {
	if newIdx == s.currentVariantIdx {
		return VariantUpdate{Result: ResultUnchanged}
	}

	oldVariant := s.mv.Variants[s.currentVariantIdx]
	newVariant := s.mv.Variants[newIdx]
	changed := s.changedMediaTypes(s.currentVariantIdx, newIdx)

	result := ResultEqualOrUnknown
	switch {
	case newVariant.Bandwidth > oldVariant.Bandwidth:
		result = ResultImproved
	case newVariant.Bandwidth < oldVariant.Bandwidth:
		result = ResultWorsened
	}

	s.currentVariantIdx = newIdx
	if s.currentAudioIdx < 0 || !s.audioIdxInGroup(newIdx, s.currentAudioIdx) {
		s.currentAudioIdx = s.defaultAudioIdxFor(newIdx)
	}

	return VariantUpdate{Result: result, ChangedMediaTypes: changed}
}

// changedMediaTypes reports which media lanes get a different permanent
// Media-Playlist id when switching from oldIdx to newIdx. Comparison goes
// through variantPermanentID rather than StableID directly, since most
// variants have no STABLE-VARIANT-ID and would otherwise all compare equal.
func (s *Store) changedMediaTypes(oldIdx, newIdx int) []host.MediaType {
	var changed []host.MediaType
	if s.variantPermanentID(oldIdx) != s.variantPermanentID(newIdx) {
		changed = append(changed, host.MediaTypeVideo)
	}
	if s.mv.Variants[oldIdx].AudioGroupID != s.mv.Variants[newIdx].AudioGroupID {
		changed = append(changed, host.MediaTypeAudio)
	}
	return changed
}

// LockVariant forces a variant selection by stable id.
func (s *Store) LockVariant(stableID string) error {
	for i, v := range s.mv.Variants {
		if v.StableID == stableID {
			s.applyVariantChange(i)
			s.variantLocked = true
			return nil
		}
	}
	return &ErrNoVariantWithID{ID: stableID}
}

// UnlockVariant releases a prior LockVariant; subsequent bandwidth updates
// may move the selection again.
func (s *Store) UnlockVariant() {
	s.variantLocked = false
}

// SetAudioTrack selects track by stable rendition id (empty string
// clears to "no explicit track"). If the current variant's audio group
// still offers that track only the audio permanent id changes; otherwise
// the best variant compatible with the track is chosen, which may unlock
// a previously-locked variant (reported via unlocked).
func (s *Store) SetAudioTrack(stableID string) (changed bool, unlocked bool) {
	if stableID == "" {
		if s.currentAudioIdx < 0 {
			return false, false
		}
		s.currentAudioIdx = -1
		return true, false
	}

	if idx, ok := s.findAudioInGroup(s.currentVariantIdx, stableID); ok {
		if s.currentAudioIdx == idx {
			return false, false
		}
		s.currentAudioIdx = idx
		return true, false
	}

	for i, v := range s.mv.Variants {
		if !s.isSupported(i) {
			continue
		}
		if idx, ok := s.findAudioInGroup(i, stableID); ok {
			s.applyVariantChange(i)
			s.currentAudioIdx = idx
			wasLocked := s.variantLocked
			s.variantLocked = false
			return true, wasLocked
		}
	}
	return false, false
}

// findAudioInGroup locates the Media in variantIdx's audio group whose
// STABLE-RENDITION-ID is stableID, returning its index into mv.AudioMedias.
func (s *Store) findAudioInGroup(variantIdx int, stableID string) (int, bool) {
	groupID := s.mv.Variants[variantIdx].AudioGroupID
	for i, m := range s.mv.AudioMedias {
		if m.GroupID == groupID && m.StableID == stableID {
			return i, true
		}
	}
	return -1, false
}

// audioIdxInGroup reports whether mediaIdx belongs to variantIdx's audio
// group, i.e. whether a variant change should keep the current audio pick.
func (s *Store) audioIdxInGroup(variantIdx, mediaIdx int) bool {
	if mediaIdx < 0 {
		return false
	}
	return s.mv.AudioMedias[mediaIdx].GroupID == s.mv.Variants[variantIdx].AudioGroupID
}

// defaultAudioIdxFor picks DEFAULT, else AUTOSELECT, else the first track
// within the variant's audio group; -1 if the group is empty (audio is
// multiplexed into the video playlist).
func (s *Store) defaultAudioIdxFor(variantIdx int) int {
	if variantIdx < 0 {
		return -1
	}
	groupID := s.mv.Variants[variantIdx].AudioGroupID
	fallback, autoSelect, deflt := -1, -1, -1
	for i, m := range s.mv.AudioMedias {
		if m.GroupID != groupID {
			continue
		}
		if fallback == -1 {
			fallback = i
		}
		if m.AutoSelect && autoSelect == -1 {
			autoSelect = i
		}
		if m.Default && deflt == -1 {
			deflt = i
		}
	}
	switch {
	case deflt != -1:
		return deflt
	case autoSelect != -1:
		return autoSelect
	default:
		return fallback
	}
}

// AudioTracks lists the renditions available in the current variant's
// audio group.
func (s *Store) AudioTracks() []parser.Media {
	if s.currentVariantIdx < 0 {
		return nil
	}
	groupID := s.mv.Variants[s.currentVariantIdx].AudioGroupID
	var out []parser.Media
	for _, m := range s.mv.AudioMedias {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out
}

// MultivariantContext exposes the Multivariant-level attributes (e.g.
// EXT-X-START) that override their Media Playlist counterparts.
func (s *Store) MultivariantContext() parser.MultivariantContext {
	return s.mv.Context
}

// CurrentVariant returns the currently-selected variant.
func (s *Store) CurrentVariant() parser.Variant {
	return s.mv.Variants[s.currentVariantIdx]
}

// Variants returns every variant the Multivariant Playlist declares, for
// status/debug surfaces; the dispatcher itself only ever needs
// CurrentVariant.
func (s *Store) Variants() []parser.Variant {
	return s.mv.Variants
}

// variantPermanentID builds mv.Variants[idx]'s permanent id: its
// STABLE-VARIANT-ID when declared, else the parse-time index.
func (s *Store) variantPermanentID(idx int) PermanentID {
	if stableID := s.mv.Variants[idx].StableID; stableID != "" {
		return PermanentID{Location: LocationVariant, StableID: stableID}
	}
	return PermanentID{Location: LocationVariant, Index: idx}
}

// audioPermanentID builds mv.AudioMedias[idx]'s permanent id: its
// STABLE-RENDITION-ID when declared, else the parse-time index.
func (s *Store) audioPermanentID(idx int) PermanentID {
	if stableID := s.mv.AudioMedias[idx].StableID; stableID != "" {
		return PermanentID{Location: LocationAudioTrack, StableID: stableID}
	}
	return PermanentID{Location: LocationAudioTrack, Index: idx}
}

// CurrPermanentID resolves the current permanent id for a media lane.
func (s *Store) CurrPermanentID(mediaType host.MediaType) PermanentID {
	if mediaType == host.MediaTypeVideo {
		return s.variantPermanentID(s.currentVariantIdx)
	}
	if s.currentAudioIdx < 0 {
		// Multiplexed: audio shares the video variant's Media Playlist.
		return s.variantPermanentID(s.currentVariantIdx)
	}
	return s.audioPermanentID(s.currentAudioIdx)
}

// URLFor resolves a permanent id to the Media Playlist URL to fetch. A
// non-empty StableID is matched by value (stable across a Multivariant
// refresh); otherwise Index addresses the parse-time array directly.
func (s *Store) URLFor(id PermanentID) (string, bool) {
	switch id.Location {
	case LocationVariant:
		if id.StableID != "" {
			for _, v := range s.mv.Variants {
				if v.StableID == id.StableID {
					return v.URL, true
				}
			}
			return "", false
		}
		if id.Index >= 0 && id.Index < len(s.mv.Variants) {
			return s.mv.Variants[id.Index].URL, true
		}
	case LocationAudioTrack:
		if id.StableID != "" {
			for _, m := range s.mv.AudioMedias {
				if m.StableID == id.StableID && m.URL != nil {
					return *m.URL, true
				}
			}
			return "", false
		}
		if id.Index >= 0 && id.Index < len(s.mv.AudioMedias) {
			if m := s.mv.AudioMedias[id.Index]; m.URL != nil {
				return *m.URL, true
			}
		}
	case LocationOtherMedia:
		for _, m := range s.mv.OtherMedias {
			if m.StableID == id.StableID && m.URL != nil {
				return *m.URL, true
			}
		}
	}
	return "", false
}

// CurrMediaPlaylist resolves the current permanent id to its parsed Media
// Playlist, if loaded.
func (s *Store) CurrMediaPlaylist(mediaType host.MediaType) (*parser.MediaPlaylist, PermanentID, bool) {
	id := s.CurrPermanentID(mediaType)
	mp, ok := s.mediaPlaylists[id]
	return mp, id, ok
}

// SetMediaPlaylist records a freshly-parsed/refreshed Media Playlist
// under its permanent id.
func (s *Store) SetMediaPlaylist(id PermanentID, mp *parser.MediaPlaylist) {
	s.mediaPlaylists[id] = mp
}

// CurrMediaPlaylistSegmentInfo returns the init/media segment lists plus
// the quality context for the given lane's current Media Playlist.
func (s *Store) CurrMediaPlaylistSegmentInfo(mediaType host.MediaType) ([]parser.InitSegment, []parser.MediaSegment, SegmentQualityContext, bool) {
	mp, id, ok := s.CurrMediaPlaylist(mediaType)
	if !ok {
		return nil, nil, SegmentQualityContext{}, false
	}
	return mp.InitSegments, mp.Segments, SegmentQualityContext{
		VariantScore:    s.mv.Variants[s.currentVariantIdx].Score,
		MediaPlaylistID: id,
	}, true
}

// CurrMinPosition and CurrMaxPosition bound the playable range of the
// current video Media Playlist.
func (s *Store) CurrMinPosition() float64 {
	mp, _, ok := s.CurrMediaPlaylist(host.MediaTypeVideo)
	if !ok || len(mp.Segments) == 0 {
		return 0
	}
	return mp.Segments[0].StartTime
}

func (s *Store) CurrMaxPosition() float64 {
	mp, _, ok := s.CurrMediaPlaylist(host.MediaTypeVideo)
	if !ok || len(mp.Segments) == 0 {
		return 0
	}
	last := mp.Segments[len(mp.Segments)-1]
	return last.StartTime + last.Duration
}

// ExpectedStartTime implements the live/event/VoD starting-position rule.
func (s *Store) ExpectedStartTime() float64 {
	mp, _, ok := s.CurrMediaPlaylist(host.MediaTypeVideo)
	if !ok {
		return 0
	}

	if !mp.EndList && mp.PlaylistType == parser.PlaylistTypeNone {
		max := s.CurrMaxPosition()
		start := max - 10
		if start < 0 {
			start = 0
		}
		return start
	}

	if mp.Start != nil {
		return s.resolveStartOffset(mp, *mp.Start)
	}

	return 0
}

func (s *Store) resolveStartOffset(mp *parser.MediaPlaylist, start parser.StartAttr) float64 {
	offset := start.Offset
	var abs float64
	if offset >= 0 {
		abs = offset
	} else {
		abs = s.maxPositionFor(mp) + offset
		if abs < 0 {
			abs = 0
		}
	}
	if start.Precise {
		return abs
	}
	return snapToSegmentStart(mp, abs)
}

func (s *Store) maxPositionFor(mp *parser.MediaPlaylist) float64 {
	if len(mp.Segments) == 0 {
		return 0
	}
	last := mp.Segments[len(mp.Segments)-1]
	return last.StartTime + last.Duration
}

func snapToSegmentStart(mp *parser.MediaPlaylist, t float64) float64 {
	idx := sort.Search(len(mp.Segments), func(i int) bool {
		seg := mp.Segments[i]
		return seg.StartTime+seg.Duration > t
	})
	if idx >= len(mp.Segments) {
		if len(mp.Segments) == 0 {
			return t
		}
		return mp.Segments[len(mp.Segments)-1].StartTime
	}
	return mp.Segments[idx].StartTime
}
