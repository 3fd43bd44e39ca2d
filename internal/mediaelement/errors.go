package mediaelement

import (
	"fmt"

	"github.com/avalon-stream/hlsplay/internal/host"
)

// SourceBufferCreationError is returned when add_source_buffer fails for a
// media lane the facade was asked to create.
type SourceBufferCreationError struct {
	MediaType host.MediaType
	Code      host.AddSourceBufferError
}

func (e *SourceBufferCreationError) Error() string {
	return fmt.Sprintf("mediaelement: create %s source buffer: code %d", e.MediaType, e.Code)
}

// AppendBufferFailure wraps a non-recoverable append_buffer error code.
type AppendBufferFailure struct {
	MediaType host.MediaType
	Code      host.AppendBufferError
}

func (e *AppendBufferFailure) Error() string {
	return fmt.Sprintf("mediaelement: append to %s buffer: code %d", e.MediaType, e.Code)
}

// BufferFullError is reported non-fatally; the dispatcher is expected to
// recover by removing buffered content and retrying.
type BufferFullError struct {
	MediaType host.MediaType
}

func (e *BufferFullError) Error() string {
	return fmt.Sprintf("mediaelement: %s source buffer full", e.MediaType)
}
