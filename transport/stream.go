package transport

import "sort"

// isStreamLocal reports whether id was opened by this endpoint, RFC 9000
// Section 2.1: bit 0 of the stream ID identifies the initiator (0 = client).
func isStreamLocal(id uint64, isClient bool) bool {
	return (id&0x1 == 0) == isClient
}

// isStreamBidi reports whether id is bidirectional: bit 1 of the stream ID
// selects the type (0 = bidirectional, 1 = unidirectional).
func isStreamBidi(id uint64) bool {
	return id&0x2 == 0
}

// recvChunk is one out-of-order delivered range of stream bytes, held until
// the reassembly buffer can make it contiguous with what has already been
// read.
type recvChunk struct {
	offset uint64
	data   []byte
}

// recvBuffer reassembles STREAM frame payloads that may arrive out of
// order and with overlaps into an ordered byte stream.
type recvBuffer struct {
	chunks     []recvChunk // sorted by offset, overlap-trimmed
	readOffset uint64
	finalSize  uint64
	hasFinal   bool
	wasReset   bool
}

func (r *recvBuffer) init() { *r = recvBuffer{} }

// push records a STREAM frame's payload. fin marks offset+len(data) as the
// final size of the stream.
func (r *recvBuffer) push(data []byte, offset uint64, fin bool) error {
	end := offset + uint64(len(data))
	if r.hasFinal && end > r.finalSize {
		return newError(FinalSizeError, "stream data beyond final size")
	}
	if fin {
		if r.hasFinal && r.finalSize != end {
			return newError(FinalSizeError, "conflicting final size")
		}
		r.hasFinal = true
		r.finalSize = end
	}
	if end <= r.readOffset || len(data) == 0 {
		return nil
	}
	if offset < r.readOffset {
		data = data[r.readOffset-offset:]
		offset = r.readOffset
	}
	r.chunks = append(r.chunks, recvChunk{offset: offset, data: append([]byte(nil), data...)})
	sort.Slice(r.chunks, func(i, j int) bool { return r.chunks[i].offset < r.chunks[j].offset })
	return nil
}

// pop returns up to max contiguous bytes starting at readOffset, consuming
// them, and whether the stream has ended and been fully drained.
func (r *recvBuffer) pop(max int) ([]byte, bool) {
	var out []byte
	for len(r.chunks) > 0 && len(out) < max {
		c := &r.chunks[0]
		if c.offset > r.readOffset {
			break
		}
		skip := r.readOffset - c.offset
		if skip >= uint64(len(c.data)) {
			r.chunks = r.chunks[1:]
			continue
		}
		avail := c.data[skip:]
		take := max - len(out)
		if take > len(avail) {
			take = len(avail)
		}
		out = append(out, avail[:take]...)
		r.readOffset += uint64(take)
		if take == len(avail) {
			r.chunks = r.chunks[1:]
		} else {
			c.data = c.data[skip+uint64(take):]
			c.offset = r.readOffset
		}
	}
	done := r.hasFinal && r.readOffset >= r.finalSize && len(r.chunks) == 0
	return out, done
}

// reset abandons the stream at finalSize, as directed by RESET_STREAM, and
// returns how many additional bytes this contributes to the connection-level
// flow control accounting (bytes between what we'd already counted and the
// final size).
func (r *recvBuffer) reset(finalSize uint64) (int, error) {
	if r.hasFinal && r.finalSize != finalSize {
		return 0, newError(FinalSizeError, "conflicting final size on reset")
	}
	already := r.readOffset
	for _, c := range r.chunks {
		if end := c.offset + uint64(len(c.data)); end > already {
			already = end
		}
	}
	if finalSize < already {
		return 0, newError(FinalSizeError, "final size below delivered data")
	}
	mayRecv := finalSize - already
	r.hasFinal = true
	r.finalSize = finalSize
	r.wasReset = true
	r.chunks = nil
	return int(mayRecv), nil
}

// sendChunk is one contiguous range handed to the wire: still unacked if it
// lives in sendBuffer.unacked, waiting to go out again if it lives in
// sendBuffer.retransmit.
type sendChunk struct {
	offset uint64
	data   []byte
	fin    bool
}

// sendBuffer holds bytes an application has written to a stream, tracking
// which have not yet been sent, which are in flight, and which were lost and
// need to go out again. This lets processAckedPackets/processLostPackets
// react to an individual frame's fate without re-deriving it from a flat
// byte slice.
type sendBuffer struct {
	retransmit []sendChunk // lost chunks queued for resend, ascending offset
	data       []byte      // fresh unsent bytes
	offset     uint64      // stream offset of data[0]
	finSet     bool
	finOffset  uint64
	finAcked   bool
	unacked    []sendChunk // sent, not yet acked or lost
}

func (s *sendBuffer) init() { *s = sendBuffer{} }

func (s *sendBuffer) write(b []byte, fin bool) {
	s.data = append(s.data, b...)
	if fin {
		s.finSet = true
		s.finOffset = s.offset + uint64(len(s.data))
	}
}

// pop removes up to max bytes for inclusion in a STREAM/CRYPTO frame,
// preferring previously-lost chunks over fresh data so retransmissions are
// not starved by new writes, and reports whether the chunk reaches the fin.
func (s *sendBuffer) pop(max int) ([]byte, uint64, bool) {
	if len(s.retransmit) > 0 {
		c := s.retransmit[0]
		if len(c.data) > max {
			head := sendChunk{offset: c.offset, data: c.data[:max]}
			s.retransmit[0] = sendChunk{offset: c.offset + uint64(max), data: c.data[max:], fin: c.fin}
			s.unacked = append(s.unacked, head)
			return head.data, head.offset, false
		}
		s.retransmit = s.retransmit[1:]
		s.unacked = append(s.unacked, c)
		return c.data, c.offset, c.fin
	}
	n := len(s.data)
	if n > max {
		n = max
	}
	if n == 0 {
		return nil, s.offset, false
	}
	data := s.data[:n]
	offset := s.offset
	s.data = s.data[n:]
	s.offset += uint64(n)
	fin := s.finSet && len(s.data) == 0
	s.unacked = append(s.unacked, sendChunk{offset: offset, data: data, fin: fin})
	return data, offset, fin
}

func (s *sendBuffer) pending() int {
	n := len(s.data)
	for _, c := range s.retransmit {
		n += len(c.data)
	}
	return n
}

// ack removes the in-flight chunk matching (offset, length) and marks the
// stream complete if it carried the fin.
func (s *sendBuffer) ack(offset, length uint64) {
	for i, c := range s.unacked {
		if c.offset == offset && uint64(len(c.data)) == length {
			s.unacked = append(s.unacked[:i], s.unacked[i+1:]...)
			if c.fin {
				s.finAcked = true
			}
			return
		}
	}
}

// push reinserts a lost chunk for retransmission, keeping the retransmit
// queue ordered by offset.
func (s *sendBuffer) push(data []byte, offset uint64, fin bool) error {
	for i, c := range s.unacked {
		if c.offset == offset && uint64(len(c.data)) == uint64(len(data)) {
			s.unacked = append(s.unacked[:i], s.unacked[i+1:]...)
			break
		}
	}
	chunk := sendChunk{offset: offset, data: data, fin: fin}
	idx := sort.Search(len(s.retransmit), func(i int) bool { return s.retransmit[i].offset >= offset })
	s.retransmit = append(s.retransmit, sendChunk{})
	copy(s.retransmit[idx+1:], s.retransmit[idx:])
	s.retransmit[idx] = chunk
	return nil
}

func (s *sendBuffer) complete() bool {
	return s.finSet && s.finAcked
}

// Stream is one QUIC stream's send and receive state, paired with its own
// flow control budget (RFC 9000 Section 4.1).
type Stream struct {
	id   uint64
	send sendBuffer
	recv recvBuffer
	flow flowControl

	connFlow       *flowControl // connection-level budget this stream's reads draw from
	maxDataInFlight bool        // a MAX_STREAM_DATA frame carrying flow.maxRecvNext is unacked
}

func newStream(id uint64, maxSend, maxRecv uint64) *Stream {
	st := &Stream{id: id}
	st.send.init()
	st.recv.init()
	st.flow.init(maxRecv, maxSend)
	return st
}

func (st *Stream) pushRecv(data []byte, offset uint64, fin bool) error {
	return st.recv.push(data, offset, fin)
}

func (st *Stream) sendOffset() uint64 { return st.send.offset }

func (st *Stream) popSend(max int) ([]byte, uint64, bool) { return st.send.pop(max) }

func (st *Stream) Write(b []byte, fin bool) {
	st.send.write(b, fin)
}

func (st *Stream) Read(max int) ([]byte, bool) {
	return st.recv.pop(max)
}

// Close marks the send side finished, queuing a FIN with whatever has
// already been written; no further Write calls are valid afterward.
func (st *Stream) Close() error {
	st.send.write(nil, true)
	return nil
}

// ackMaxData clears the in-flight latch once a MAX_STREAM_DATA frame this
// stream sent has been acknowledged, and folds in the window it advertised.
func (st *Stream) ackMaxData() {
	st.maxDataInFlight = false
	st.flow.commitMaxRecv()
}

// streamMap owns every stream opened on a connection and the peer-visible
// stream-count limits, RFC 9000 Section 4.6.
type streamMap struct {
	streams map[uint64]*Stream

	localMaxStreamsBidi uint64
	localMaxStreamsUni  uint64
	peerMaxStreamsBidi  uint64
	peerMaxStreamsUni   uint64

	wantMaxStreamsBidiUpdate bool
	wantMaxStreamsUniUpdate  bool
}

func (m *streamMap) init(localMaxBidi, localMaxUni uint64) {
	*m = streamMap{
		streams:             make(map[uint64]*Stream),
		localMaxStreamsBidi: localMaxBidi,
		localMaxStreamsUni:  localMaxUni,
	}
}

func (m *streamMap) get(id uint64) *Stream {
	return m.streams[id]
}

func (m *streamMap) count() int { return len(m.streams) }

// create opens a new stream, checking it against the appropriate
// peer-visible stream-count limit: our own advertised limit if the peer is
// the initiator, or the limit the peer has granted us if we are.
func (m *streamMap) create(id uint64, local bool, bidi bool) (*Stream, error) {
	ordinal := id>>2 + 1
	if bidi {
		limit := m.localMaxStreamsBidi
		if local {
			limit = m.peerMaxStreamsBidi
		}
		if ordinal > limit {
			return nil, newError(StreamLimitError, sprint("bidi stream limit exceeded id=", id))
		}
	} else {
		limit := m.localMaxStreamsUni
		if local {
			limit = m.peerMaxStreamsUni
		}
		if ordinal > limit {
			return nil, newError(StreamLimitError, sprint("uni stream limit exceeded id=", id))
		}
	}
	st := newStream(id, 0, 0)
	m.streams[id] = st
	return st, nil
}

func (m *streamMap) setPeerMaxStreamsBidi(n uint64) {
	if n > m.peerMaxStreamsBidi {
		m.peerMaxStreamsBidi = n
	}
}

func (m *streamMap) setPeerMaxStreamsUni(n uint64) {
	if n > m.peerMaxStreamsUni {
		m.peerMaxStreamsUni = n
	}
}

// hasFlushable reports whether any stream has data, a FIN, or a flow-control
// update waiting to go out.
func (m *streamMap) hasFlushable() bool {
	for _, st := range m.streams {
		if st.send.pending() > 0 || (st.send.finSet && !st.send.finAcked) || st.flow.shouldUpdateMaxRecv() {
			return true
		}
	}
	return m.wantMaxStreamsBidiUpdate || m.wantMaxStreamsUniUpdate
}

// cryptoStream carries one packet number space's share of the handshake.
// Unlike application streams it is not flow-controlled (RFC 9000 Section
// 7.5 leaves CRYPTO framing entirely outside stream flow control).
type cryptoStream struct {
	send sendBuffer
	recv recvBuffer
}

func (c *cryptoStream) init() {
	c.send.init()
	c.recv.init()
}

func (c *cryptoStream) pushRecv(data []byte, offset uint64, fin bool) error {
	return c.recv.push(data, offset, fin)
}

func (c *cryptoStream) popRecv(max int) ([]byte, bool) {
	return c.recv.pop(max)
}

func (c *cryptoStream) write(b []byte) {
	c.send.write(b, false)
}

func (c *cryptoStream) popSend(max int) ([]byte, uint64) {
	data, offset, _ := c.send.pop(max)
	return data, offset
}

func (c *cryptoStream) sendOffset() uint64 { return c.send.offset }

func (c *cryptoStream) hasPending() bool { return c.send.pending() > 0 }
