package parser

import (
	"path"
	"strings"

	"github.com/avalon-stream/hlsplay/internal/host"
)

// mimeByExtension is the sole mechanism for choosing a source-buffer MIME
// type when the variant doesn't directly provide one.
var mimeByExtension = map[string]string{
	"mp4":  "mp4",
	"mp4a": "mp4",
	"m4s":  "mp4",
	"m4i":  "mp4",
	"m4a":  "mp4",
	"m4v":  "mp4",
	"m4f":  "mp4",
	"mp4v": "mp4",
	"cmfa": "mp4",
	"cmfv": "mp4",
	"aac":  "aac",
	"ac3":  "ac3",
	"ec3":  "ec3",
	"mp3":  "mpeg",
	"ts":   "mp2t",
}

// InferMIME derives a MIME type from the resource's URL extension and the
// media type the source buffer belongs to.
func InferMIME(url string, mediaType host.MediaType) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(stripQuery(url)), "."))
	sub, ok := mimeByExtension[ext]
	if !ok {
		sub = "mp4"
	}
	if sub == "mp2t" {
		return "video/mp2t"
	}
	if mediaType == host.MediaTypeAudio {
		return "audio/" + sub
	}
	return "video/" + sub
}

func stripQuery(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
