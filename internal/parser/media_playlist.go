package parser

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
	"time"
)

// ParseMediaPlaylist parses a Media Playlist. prev, if non-nil, is the
// previously-parsed version of the same playlist: init segments whose
// (URL, ByteRange) match one in prev keep prev's Start so buffered
// segments referencing them keep their identity across a refresh.
// mvCtx, if non-nil, overrides a Media Playlist's own EXT-X-START.
func ParseMediaPlaylist(data []byte, url string, prev *MediaPlaylist, mvCtx *MultivariantContext) (*MediaPlaylist, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	buf := make([]byte, maxPlaylistLineSize)
	scanner.Buffer(buf, maxPlaylistLineSize)

	mp := &MediaPlaylist{URL: url}
	lineNum := 0
	sawHeader := false
	sawTargetDuration := false

	clock := 0.0
	var pendingDuration *float64
	var pendingByteRange *ByteRange
	var lastByteRangeEnd int64
	pendingGap := false
	currentInitIndex := -1

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !sawHeader {
			if line != "#EXTM3U" {
				return nil, newParseError(ErrMissingExtM3uHeader, url, lineNum, line)
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			body, _ := tagBody(line, "#EXT-X-TARGETDURATION")
			if v, err := strconv.ParseFloat(strings.TrimSpace(body), 64); err == nil {
				mp.TargetDuration = v
				sawTargetDuration = true
			}

		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			body, _ := tagBody(line, "#EXT-X-MEDIA-SEQUENCE")
			if v, err := strconv.ParseUint(strings.TrimSpace(body), 10, 64); err == nil {
				mp.MediaSequence = v
			}

		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:"):
			body, _ := tagBody(line, "#EXT-X-PLAYLIST-TYPE")
			switch strings.ToUpper(strings.TrimSpace(body)) {
			case "VOD":
				mp.PlaylistType = PlaylistTypeVoD
			case "EVENT":
				mp.PlaylistType = PlaylistTypeEvent
			}

		case line == "#EXT-X-ENDLIST":
			mp.EndList = true

		case line == "#EXT-X-I-FRAMES-ONLY":
			mp.IFramesOnly = true

		case line == "#EXT-X-INDEPENDENT-SEGMENTS":
			mp.IndependentSegments = true

		case strings.HasPrefix(line, "#EXT-X-START:"):
			body, _ := tagBody(line, "#EXT-X-START")
			attrs := parseAttrs(body)
			if off, ok := parseFloatAttr(attrs, "TIME-OFFSET"); ok {
				mp.Start = &StartAttr{Offset: off, Precise: parseBoolAttr(attrs, "PRECISE")}
			}

		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			body, _ := tagBody(line, "#EXT-X-MAP")
			attrs := parseAttrs(body)
			uri, ok := attrs["URI"]
			if !ok || uri == "" {
				return nil, newParseError(ErrUriMissingInMap, url, lineNum, line)
			}
			init := InitSegment{URL: resolveURL(url, uri), Start: clock}
			if br, ok := attrs["BYTERANGE"]; ok {
				parsed, perr := parseByteRange(br, 0)
				if perr != nil {
					return nil, newParseError(ErrUnparsableByteRange, url, lineNum, line)
				}
				init.ByteRange = parsed
			}
			reuseInitStart(&init, prev)
			mp.InitSegments = append(mp.InitSegments, init)
			currentInitIndex = len(mp.InitSegments) - 1

		case strings.HasPrefix(line, "#EXTINF:"):
			body, _ := tagBody(line, "#EXTINF")
			d, perr := parseExtInf(body)
			if perr != nil {
				return nil, newParseError(ErrUnparsableExtInf, url, lineNum, line)
			}
			pendingDuration = &d

		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			body, _ := tagBody(line, "#EXT-X-BYTERANGE")
			parsed, perr := parseByteRange(body, lastByteRangeEnd)
			if perr != nil {
				return nil, newParseError(ErrUnparsableByteRange, url, lineNum, line)
			}
			pendingByteRange = parsed

		case strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"):
			body, _ := tagBody(line, "#EXT-X-PROGRAM-DATE-TIME")
			if t, perr := time.Parse(time.RFC3339Nano, strings.TrimSpace(body)); perr == nil {
				clock = float64(t.UnixNano()) / 1e9
			}

		case line == "#EXT-X-GAP":
			pendingGap = true

		case strings.HasPrefix(line, "#"):
			// Unknown or unhandled tag; permissively ignored.

		default:
			if pendingDuration == nil {
				return nil, newParseError(ErrUriWithoutExtInf, url, lineNum, line)
			}
			if pendingGap {
				// The GAP'd segment itself is never fetched; only the
				// clock advances past it.
				clock += *pendingDuration
				pendingDuration = nil
				pendingByteRange = nil
				pendingGap = false
				continue
			}
			seg := MediaSegment{
				URL:       resolveURL(url, line),
				ByteRange: pendingByteRange,
				StartTime: clock,
				Duration:  *pendingDuration,
				InitIndex: currentInitIndex,
			}
			mp.Segments = append(mp.Segments, seg)
			if pendingByteRange != nil {
				lastByteRangeEnd = pendingByteRange.Offset + pendingByteRange.Length
			}
			clock += *pendingDuration
			pendingDuration = nil
			pendingByteRange = nil
		}
	}

	if !sawTargetDuration {
		return nil, newParseError(ErrMissingTargetDuration, url, lineNum, "")
	}

	if mvCtx != nil && mvCtx.Start != nil {
		mp.Start = mvCtx.Start
	}

	return mp, nil
}

// reuseInitStart preserves the prior Start of an identical (by URL and
// byte range) init segment, so buffered segments referencing it keep
// their identity across a refresh.
func reuseInitStart(init *InitSegment, prev *MediaPlaylist) {
	if prev == nil {
		return
	}
	for _, p := range prev.InitSegments {
		if p.URL == init.URL && byteRangesEqual(p.ByteRange, init.ByteRange) {
			init.Start = p.Start
			return
		}
	}
}

func byteRangesEqual(a, b *ByteRange) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Offset == b.Offset && a.Length == b.Length
}

func parseExtInf(body string) (float64, error) {
	parts := strings.SplitN(body, ",", 2)
	v, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// parseByteRange parses "<length>[@<offset>]"; a missing offset continues
// from prevEnd (the end of the previous byte range in this playlist).
func parseByteRange(s string, prevEnd int64) (*ByteRange, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, "@", 2)
	length, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return nil, err
	}
	offset := prevEnd
	if len(parts) == 2 {
		offset, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, err
		}
	}
	return &ByteRange{Length: length, Offset: offset}, nil
}
