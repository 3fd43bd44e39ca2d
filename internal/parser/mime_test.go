package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avalon-stream/hlsplay/internal/host"
)

func TestInferMIME(t *testing.T) {
	assert.Equal(t, "video/mp4", InferMIME("http://example.com/seg.mp4", host.MediaTypeVideo))
	assert.Equal(t, "audio/mp4", InferMIME("http://example.com/seg.m4s", host.MediaTypeAudio))
	assert.Equal(t, "audio/aac", InferMIME("http://example.com/seg.aac", host.MediaTypeAudio))
	assert.Equal(t, "video/mp2t", InferMIME("http://example.com/seg.ts?token=abc", host.MediaTypeAudio))
	assert.Equal(t, "audio/ec3", InferMIME("http://example.com/seg.ec3", host.MediaTypeAudio))
}
