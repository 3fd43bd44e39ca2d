package host

import "fmt"

// OtherErrorCode enumerates the generic "other" error family reported to
// ErrorReporter that doesn't fit the request/parse/buffer taxonomies.
type OtherErrorCode int

const (
	OtherErrorNoSupportedVariant OtherErrorCode = iota
	OtherErrorUnfoundLockedVariant
	OtherErrorMediaSourceAttachment
	OtherErrorUnknown
)

func (c OtherErrorCode) String() string {
	switch c {
	case OtherErrorNoSupportedVariant:
		return "no_supported_variant"
	case OtherErrorUnfoundLockedVariant:
		return "unfound_locked_variant"
	case OtherErrorMediaSourceAttachment:
		return "media_source_attachment_error"
	default:
		return "unknown"
	}
}

// OtherError wraps OtherErrorCode into an error value for ErrorReporter.
type OtherError struct {
	Code    OtherErrorCode
	Message string
}

func (e *OtherError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code.String()
}

// NewOtherError constructs an OtherError.
func NewOtherError(code OtherErrorCode, message string) *OtherError {
	return &OtherError{Code: code, Message: message}
}
