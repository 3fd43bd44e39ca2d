package parser

import (
	"bufio"
	"bytes"
	"sort"
	"strconv"
	"strings"
)

const maxPlaylistLineSize = 1024 * 1024

// ParseMultivariant parses a Multivariant Playlist. The first non-empty
// line must be #EXTM3U or parsing fails with ErrMissingExtM3uHeader.
func ParseMultivariant(data []byte, url string) (*MultivariantPlaylist, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	buf := make([]byte, maxPlaylistLineSize)
	scanner.Buffer(buf, maxPlaylistLineSize)

	mv := &MultivariantPlaylist{URL: url}
	lineNum := 0
	sawHeader := false
	var pendingVariant *Variant
	var nextVariantID uint32
	var nextMediaID uint32

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
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			body, _ := tagBody(line, "#EXT-X-STREAM-INF")
			attrs := parseAttrs(body)
			v := &Variant{ID: nextVariantID}
			nextVariantID++
			if bw, ok := parseUint32Attr(attrs, "BANDWIDTH"); ok {
				v.Bandwidth = bw
			}
			if abw, ok := parseUint32Attr(attrs, "AVERAGE-BANDWIDTH"); ok {
				v.AverageBandwidth = &abw
			}
			v.Codecs = SplitCodecs(attrs["CODECS"])
			if res, ok := attrs["RESOLUTION"]; ok {
				if w, h, ok := parseResolution(res); ok {
					v.Resolution = &Resolution{Width: w, Height: h}
				}
			}
			if fr, ok := parseFloatAttr(attrs, "FRAME-RATE"); ok {
				v.FrameRate = &fr
			}
			v.HDRRange = attrs["VIDEO-RANGE"]
			v.AudioGroupID = attrs["AUDIO"]
			v.SubtitleGroupID = attrs["SUBTITLES"]
			if score, ok := parseFloatAttr(attrs, "SCORE"); ok {
				v.Score = score
			}
			v.StableID = attrs["STABLE-VARIANT-ID"]
			pendingVariant = v

		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			body, _ := tagBody(line, "#EXT-X-MEDIA")
			attrs := parseAttrs(body)
			m := Media{ID: nextMediaID}
			nextMediaID++
			m.Kind = mediaKindFromType(attrs["TYPE"])
			m.GroupID = attrs["GROUP-ID"]
			m.Name = attrs["NAME"]
			m.Language = attrs["LANGUAGE"]
			m.Channels = attrs["CHANNELS"]
			m.AutoSelect = parseBoolAttr(attrs, "AUTOSELECT")
			m.Default = parseBoolAttr(attrs, "DEFAULT")
			m.Forced = parseBoolAttr(attrs, "FORCED")
			m.StableID = attrs["STABLE-RENDITION-ID"]
			if uri, ok := attrs["URI"]; ok && uri != "" {
				m.URL = &uri
			}
			if m.Kind == MediaKindAudio {
				mv.AudioMedias = append(mv.AudioMedias, m)
			} else {
				mv.OtherMedias = append(mv.OtherMedias, m)
			}

		case strings.HasPrefix(line, "#EXT-X-START:"):
			body, _ := tagBody(line, "#EXT-X-START")
			attrs := parseAttrs(body)
			if off, ok := parseFloatAttr(attrs, "TIME-OFFSET"); ok {
				mv.Context.Start = &StartAttr{
					Offset:  off,
					Precise: parseBoolAttr(attrs, "PRECISE"),
				}
			}

		case line == "#EXT-X-INDEPENDENT-SEGMENTS":
			mv.Context.IndependentSegments = true

		case strings.HasPrefix(line, "#"):
			// Unknown or unhandled tag; permissively ignored.

		default:
			// URI line for the pending EXT-X-STREAM-INF.
			if pendingVariant != nil {
				pendingVariant.URL = resolveURL(url, line)
				mv.Variants = append(mv.Variants, *pendingVariant)
				pendingVariant = nil
			}
		}
	}

	sortVariants(mv.Variants)
	return mv, nil
}

func sortVariants(variants []Variant) {
	sort.SliceStable(variants, func(i, j int) bool {
		if variants[i].Score != variants[j].Score {
			return variants[i].Score < variants[j].Score
		}
		return variants[i].Bandwidth < variants[j].Bandwidth
	})
}

func mediaKindFromType(t string) MediaKind {
	switch strings.ToUpper(t) {
	case "VIDEO":
		return MediaKindVideo
	case "SUBTITLES":
		return MediaKindSubtitles
	case "CLOSED-CAPTIONS":
		return MediaKindClosedCaptions
	default:
		return MediaKindAudio
	}
}

func parseResolution(s string) (w, h int, ok bool) {
	parts := strings.SplitN(s, "x", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	wi, err1 := strconv.Atoi(parts[0])
	hi, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return wi, hi, true
}

// resolveURL joins a possibly-relative segment/playlist URL against the
// playlist's own URL. Absolute URLs (with a scheme) pass through.
func resolveURL(base, ref string) string {
	if strings.Contains(ref, "://") {
		return ref
	}
	if base == "" {
		return ref
	}
	idx := strings.LastIndexByte(base, '/')
	if idx < 0 {
		return ref
	}
	return base[:idx+1] + ref
}
