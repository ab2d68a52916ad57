package transport

import "github.com/rotisserie/eris"

// ErrorCode is a QUIC transport error code as defined in RFC 9000 Section 20.1,
// plus the locally-used abstract kinds from the frame layer that never cross
// the wire (MalformedFrame, UnsupportedFrame, NoMemory, StreamNotFound map to
// FrameEncodingError, FrameEncodingError, InternalError and StreamStateError
// respectively when they need a wire representation).
type ErrorCode uint64

// Transport error codes.
const (
	NoError ErrorCode = iota
	InternalError
	ConnectionRefused
	FlowControlError
	StreamLimitError
	StreamStateError
	FinalSizeError
	FrameEncodingError
	TransportParameterError
	ConnectionIDLimitError
	ProtocolViolation
	InvalidToken
	ApplicationError
	CryptoBufferExceeded
	KeyUpdateError
	AEADLimitReached
	NoViablePath
)

// Abstract decode-time kinds that do not have their own wire code; they are
// reported to the peer (when escalated to CONNECTION_CLOSE) under the
// transport error code in parentheses.
const (
	// MalformedFrame: varint decode failure, announced length exceeds
	// remaining bytes, or a field violates a range constraint. (FrameEncodingError)
	MalformedFrame = FrameEncodingError
	// UnsupportedFrame: frame type byte above BASE_MAX. (FrameEncodingError)
	UnsupportedFrame = FrameEncodingError
	// NoMemory: buffer allocation or copy failure. (InternalError)
	NoMemory = InternalError
	// StreamNotFound: reference to an unknown stream where the stream table
	// does not auto-create one. (StreamStateError)
	StreamNotFound = StreamStateError
)

var errorCodeNames = [...]string{
	"no_error",
	"internal_error",
	"connection_refused",
	"flow_control_error",
	"stream_limit_error",
	"stream_state_error",
	"final_size_error",
	"frame_encoding_error",
	"transport_parameter_error",
	"connection_id_limit_error",
	"protocol_violation",
	"invalid_token",
	"application_error",
	"crypto_buffer_exceeded",
	"key_update_error",
	"aead_limit_reached",
	"no_viable_path",
}

func errorCodeString(code uint64) string {
	if code >= 0x100 && code < 0x200 {
		return sprint("crypto_error_", code-0x100)
	}
	if int(code) < len(errorCodeNames) {
		return errorCodeNames[code]
	}
	return sprint("error_", code)
}

// Package-level sentinel errors used on connection-level hot paths where
// allocating a message-carrying *Error is unnecessary.
var (
	errFlowControl   = newError(FlowControlError, "flow control limit exceeded")
	errInvalidToken  = newError(InvalidToken, "invalid retry token")
	errShortBuffer   = newError(InternalError, "short buffer")
	errRangeCount    = newError(MalformedFrame, "ack range count exceeds QUIC_PN_MAX_GABS")
	errOffsetNonzero = newError(MalformedFrame, "crypto frame offset must be zero")
)

// Error is returned by every exported transport operation. Code is the
// abstract/wire error code; callers that need to escalate to
// CONNECTION_CLOSE use Code directly.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return errorCodeString(uint64(e.Code))
	}
	return errorCodeString(uint64(e.Code)) + ": " + e.Message
}

// newError constructs a *Error. Use newError for failures raised directly by
// this package; use wrapError to attach a stack trace to a failure that
// originated from a lower-level read (short buffer, truncated varint).
func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// wrapError attaches an eris stack trace to err while preserving the
// abstract kind so that callers can still compare against ErrorCode with
// errors.As, and %+v on the returned error prints where it was raised.
func wrapError(code ErrorCode, err error, message string) error {
	if err == nil {
		return nil
	}
	return eris.Wrap(&Error{Code: code, Message: message}, err.Error())
}
