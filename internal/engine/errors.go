package engine

// ConversionError is a terminal engine failure. The message is preserved
// verbatim so callers can surface and classify it.
type ConversionError struct {
	Message string
}

func (e *ConversionError) Error() string {
	return e.Message
}

// NewConversionError wraps a raw engine failure message.
func NewConversionError(msg string) *ConversionError {
	return &ConversionError{Message: msg}
}
