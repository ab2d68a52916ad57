package transport

// flowControl tracks one flow-controlled budget (RFC 9000 Section 4): how
// much has been sent/received against how much the peer/we have permitted.
// The same type backs both the connection-level budget (Conn.flow) and each
// stream's budget (Stream.flow).
type flowControl struct {
	maxRecv uint64 // limit we have advertised to the peer
	recvd   uint64 // total bytes received so far
	maxSend uint64 // limit the peer has advertised to us
	sent    uint64 // total bytes sent so far

	// maxRecvNext is the limit we would like to advertise next. It is raised
	// by addRecv once half the current window is consumed, or immediately by
	// requestUpdate when the peer reports being blocked. shouldUpdateMaxRecv
	// reports whether it has outrun maxRecv; commitMaxRecv folds it in once
	// the MAX_DATA/MAX_STREAM_DATA frame carrying it is acknowledged.
	maxRecvNext uint64
}

func (f *flowControl) init(maxRecv, maxSend uint64) {
	*f = flowControl{maxRecv: maxRecv, maxSend: maxSend, maxRecvNext: maxRecv}
}

// canRecv returns how many more bytes may be received before maxRecv is hit.
func (f *flowControl) canRecv() uint64 {
	if f.recvd >= f.maxRecv {
		return 0
	}
	return f.maxRecv - f.recvd
}

func (f *flowControl) addRecv(n int) {
	f.recvd += uint64(n)
	if f.recvd*2 >= f.maxRecv && f.maxRecvNext <= f.maxRecv {
		f.maxRecvNext = f.maxRecv * 2
	}
}

// requestUpdate forces a higher window on the next opportunity, used when
// the peer reports DATA_BLOCKED/STREAM_DATA_BLOCKED against the window we
// already advertised.
func (f *flowControl) requestUpdate() {
	if f.maxRecvNext <= f.maxRecv {
		f.maxRecvNext = f.maxRecv * 2
	}
}

func (f *flowControl) shouldUpdateMaxRecv() bool {
	return f.maxRecvNext > f.maxRecv
}

// commitMaxRecv folds maxRecvNext into maxRecv once the frame that
// advertised it has been acknowledged.
func (f *flowControl) commitMaxRecv() {
	f.maxRecv = f.maxRecvNext
}

// setMaxSend installs a new peer-advertised limit. RFC 9000 Section 4.1
// requires ignoring MAX_DATA/MAX_STREAM_DATA frames that would lower it.
func (f *flowControl) setMaxSend(max uint64) {
	if max > f.maxSend {
		f.maxSend = max
	}
}

func (f *flowControl) canSend() uint64 {
	if f.sent >= f.maxSend {
		return 0
	}
	return f.maxSend - f.sent
}

func (f *flowControl) addSend(n int) {
	f.sent += uint64(n)
}
