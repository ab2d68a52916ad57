package transport

// EventType distinguishes the kinds of Event a Conn can surface through
// Events, mirroring the notifications a real QUIC stack raises for the
// application layer to act on.
type EventType uint8

const (
	// EventStreamReadable reports that a stream has newly reassembled,
	// readable bytes.
	EventStreamReadable EventType = iota
	// EventStreamReset reports that the peer abruptly terminated the
	// receiving side of a stream with RESET_STREAM.
	EventStreamReset
	// EventStreamStop reports that the peer asked us to stop sending on a
	// stream with STOP_SENDING.
	EventStreamStop
	// EventStreamComplete reports that everything written to a stream has
	// been acknowledged, including its FIN.
	EventStreamComplete
)

// Event is one notification queued by Conn for the application to consume
// through Events.
type Event struct {
	Type      EventType
	StreamID  uint64
	ErrorCode uint64
}

func newStreamRecvEvent(streamID uint64) Event {
	return Event{Type: EventStreamReadable, StreamID: streamID}
}

func newStreamResetEvent(streamID, errorCode uint64) Event {
	return Event{Type: EventStreamReset, StreamID: streamID, ErrorCode: errorCode}
}

func newStreamStopEvent(streamID, errorCode uint64) Event {
	return Event{Type: EventStreamStop, StreamID: streamID, ErrorCode: errorCode}
}

func newStreamCompleteEvent(streamID uint64) Event {
	return Event{Type: EventStreamComplete, StreamID: streamID}
}
