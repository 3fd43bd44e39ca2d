package parser

import "strings"

// CodecKind is the inferred media kind of a CODECS entry.
type CodecKind int

const (
	CodecKindUnknown CodecKind = iota
	CodecKindAudio
	CodecKindVideo
)

var audioCodecPrefixes = []string{"mp4a", "ec-3", "ac-3"}
var videoCodecPrefixes = []string{"avc1", "avc3", "hvc1", "hev1", "dvh1", "dvhe"}

// ClassifyCodec maps a CODECS entry (e.g. "avc1.64001f") to the media kind
// it belongs to, by dot-separated prefix. Unknown codec strings classify
// as CodecKindUnknown; the caller decides what, if anything, to do with
// those.
func ClassifyCodec(codec string) CodecKind {
	prefix := codec
	if i := strings.IndexByte(codec, '.'); i >= 0 {
		prefix = codec[:i]
	}
	prefix = strings.ToLower(prefix)
	for _, p := range audioCodecPrefixes {
		if prefix == p {
			return CodecKindAudio
		}
	}
	for _, p := range videoCodecPrefixes {
		if prefix == p {
			return CodecKindVideo
		}
	}
	return CodecKindUnknown
}

// SplitCodecs parses a CODECS attribute value ("avc1.640029,mp4a.40.2")
// into its comma-separated entries.
func SplitCodecs(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CodecsByKind splits a variant's codec list into its audio and video
// entries (entries of unknown kind are dropped).
func CodecsByKind(codecs []string) (audio, video []string) {
	for _, c := range codecs {
		switch ClassifyCodec(c) {
		case CodecKindAudio:
			audio = append(audio, c)
		case CodecKindVideo:
			video = append(video, c)
		}
	}
	return audio, video
}
