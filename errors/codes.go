package errors

// Wire error codes. The values are part of the protocol ABI and must not be
// renumbered.
const (
	CodeOK              int32 = 0
	CodeInvalidApi      int32 = -1
	CodeInvalidParams   int32 = -2
	CodeMemoryMapFailed int32 = -3
	CodeBufferTooLarge  int32 = -4
	CodeUnknown         int32 = -99
)

// CodeOf maps a handler error to its wire code. Unrecognized errors map to
// CodeUnknown rather than leaking local error kinds onto the wire.
func CodeOf(err error) int32 {
	if err == nil {
		return CodeOK
	}
	var st *Status
	if As(err, &st) {
		return st.Code()
	}
	switch {
	case Is(err, ErrUnknownApi):
		return CodeInvalidApi
	case Is(err, ErrInvalidParameters), Is(err, ErrMalformedMessage):
		return CodeInvalidParams
	case Is(err, ErrMemoryMapFailed):
		return CodeMemoryMapFailed
	case Is(err, ErrBufferTooLarge):
		return CodeBufferTooLarge
	default:
		return CodeUnknown
	}
}

// FromCode maps a wire code back to the matching sentinel.
func FromCode(code int32) error {
	switch code {
	case CodeOK:
		return nil
	case CodeInvalidApi:
		return ErrUnknownApi
	case CodeInvalidParams:
		return ErrInvalidParameters
	case CodeMemoryMapFailed:
		return ErrMemoryMapFailed
	case CodeBufferTooLarge:
		return ErrBufferTooLarge
	default:
		return ErrUnknown
	}
}
