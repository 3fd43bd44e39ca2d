package dispatcher

import "fmt"

// RequestFailedError wraps a fatal (non-retriable, or retry-exhausted)
// request failure reported up from the requester.
type RequestFailedError struct {
	URL string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("dispatcher: request failed fatally: %s", e.URL)
}
