package transport

import "fmt"

// Base frame type codes, RFC 9000 Section 19. Several codes intentionally
// alias the same handler in the dispatch table (frame_ops.go): both ACK
// variants, all eight STREAM variants, and both CONNECTION_CLOSE variants.
const (
	frameTypePadding             = 0x00
	frameTypePing                = 0x01
	frameTypeAck                 = 0x02
	frameTypeAckECN              = 0x03
	frameTypeResetStream         = 0x04
	frameTypeStopSending         = 0x05
	frameTypeCrypto              = 0x06
	frameTypeNewToken            = 0x07
	frameTypeStream              = 0x08
	frameTypeStreamEnd           = 0x0f
	frameTypeMaxData             = 0x10
	frameTypeMaxStreamData       = 0x11
	frameTypeMaxStreamsBidi      = 0x12
	frameTypeMaxStreamsUni       = 0x13
	frameTypeDataBlocked         = 0x14
	frameTypeStreamDataBlocked   = 0x15
	frameTypeStreamsBlockedBidi  = 0x16
	frameTypeStreamsBlockedUni   = 0x17
	frameTypeNewConnectionID     = 0x18
	frameTypeRetireConnectionID  = 0x19
	frameTypePathChallenge       = 0x1a
	frameTypePathResponse        = 0x1b
	frameTypeConnectionClose     = 0x1c
	frameTypeApplicationClose    = 0x1d
	frameTypeHanshakeDone        = 0x1e
	frameTypeBaseMax             = frameTypeHanshakeDone
)

// STREAM frame type bits, RFC 9000 Section 19.8.
const (
	streamBitFin = 0x01
	streamBitLen = 0x02
	streamBitOff = 0x04
)

// Rough per-frame header overhead used when reserving space in a packet for
// a frame whose payload length is only known once the rest has been laid
// out (CRYPTO and STREAM can both be arbitrarily truncated to fit).
const (
	maxCryptoFrameOverhead = 1 + 8 + 8 // type + offset + length, worst case
	maxStreamFrameOverhead = 1 + 8 + 8 + 8
)

// frame is any decoded or to-be-encoded QUIC frame. encode always emits the
// type byte first.
type frame interface {
	encodedLen() int
	encode(b []byte) (int, error)
}

// ---- PADDING ----

type paddingFrame struct {
	length int // number of zero bytes after the type byte
}

func newPaddingFrame(length int) *paddingFrame {
	return &paddingFrame{length: length}
}

func (s *paddingFrame) encodedLen() int { return 1 + s.length }

// encode writes one type byte followed by length zero bytes. Per RFC 9000,
// each zero byte is independently a valid PADDING frame, and the PADDING
// type byte is itself 0x00, so the output is 1+length zero bytes in all.
func (s *paddingFrame) encode(b []byte) (int, error) {
	n := s.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	for i := range b[:n] {
		b[i] = 0
	}
	putVarint(b, frameTypePadding)
	return n, nil
}

func (s *paddingFrame) decode(b []byte) (int, error) {
	return len(b), nil
}

func (s *paddingFrame) String() string {
	return fmt.Sprintf("padding len=%d", s.length)
}

// ---- PING ----

type pingFrame struct{}

func newPingFrame() *pingFrame { return &pingFrame{} }

func (s *pingFrame) encodedLen() int { return 1 }

func (s *pingFrame) encode(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, errShortBuffer
	}
	return putVarint(b, frameTypePing), nil
}

func (s *pingFrame) decode(b []byte) (int, error) {
	return 0, nil
}

func (s *pingFrame) String() string { return "ping" }

// ---- ACK / ACK_ECN ----

type ackRange struct {
	smallest, largest uint64
}

type ackFrame struct {
	ecn           bool
	largestAck    uint64
	ackDelay      uint64
	firstAckRange uint64
	gaps          []gapAckBlock // builder side: ascending by start, mirrors the pnMap
	ranges        []ackRange    // decode side: descending, as parsed off the wire
	ecnCounts     [3]uint64     // ECT0, ECT1, CE; parsed but not acted on
}

// newAckFrame builds an ACK frame from the current state of a pnMap. The
// field derivation (largest/smallest/gap/range-length) follows the kernel
// original's quic_frame_ack_create exactly.
func newAckFrame(ackDelay uint64, pn pnMap) *ackFrame {
	f := &ackFrame{
		largestAck: pn.maxPnSeen(),
		ackDelay:   ackDelay,
	}
	var gabs [quicPnMaxGabs]gapAckBlock
	n := pn.numGabs(gabs[:])
	f.gaps = append([]gapAckBlock(nil), gabs[:n]...)
	smallest := pn.minPnSeen()
	if n > 0 {
		smallest = pn.basePn() + f.gaps[n-1].end
	}
	f.firstAckRange = f.largestAck - smallest
	return f
}

func newAckECNFrame(ackDelay uint64, pn pnMap, ect0, ect1, ce uint64) *ackFrame {
	f := newAckFrame(ackDelay, pn)
	f.ecn = true
	f.ecnCounts = [3]uint64{ect0, ect1, ce}
	return f
}

func (s *ackFrame) typeByte() uint64 {
	if s.ecn {
		return frameTypeAckECN
	}
	return frameTypeAck
}

func (s *ackFrame) encodedLen() int {
	n := varintLen(s.typeByte()) + varintLen(s.largestAck) + varintLen(s.ackDelay) +
		varintLen(uint64(len(s.gaps))) + varintLen(s.firstAckRange)
	for i := len(s.gaps) - 1; i > 0; i-- {
		gap := s.gaps[i].end - s.gaps[i].start
		length := s.gaps[i].start - s.gaps[i-1].end - 2
		n += varintLen(gap) + varintLen(length)
	}
	if len(s.gaps) > 0 {
		gap := s.gaps[0].end - s.gaps[0].start
		length := s.gaps[0].start - 2
		n += varintLen(gap) + varintLen(length)
	}
	if s.ecn {
		n += varintLen(s.ecnCounts[0]) + varintLen(s.ecnCounts[1]) + varintLen(s.ecnCounts[2])
	}
	return n
}

func (s *ackFrame) encode(b []byte) (int, error) {
	n := s.encodedLen()
	if len(b) < n {
		return 0, errShortBuffer
	}
	p := 0
	p += putVarint(b[p:], s.typeByte())
	p += putVarint(b[p:], s.largestAck)
	p += putVarint(b[p:], s.ackDelay)
	p += putVarint(b[p:], uint64(len(s.gaps)))
	p += putVarint(b[p:], s.firstAckRange)
	for i := len(s.gaps) - 1; i > 0; i-- {
		gap := s.gaps[i].end - s.gaps[i].start
		length := s.gaps[i].start - s.gaps[i-1].end - 2
		p += putVarint(b[p:], gap)
		p += putVarint(b[p:], length)
	}
	if len(s.gaps) > 0 {
		gap := s.gaps[0].end - s.gaps[0].start
		length := s.gaps[0].start - 2
		p += putVarint(b[p:], gap)
		p += putVarint(b[p:], length)
	}
	if s.ecn {
		p += putVarint(b[p:], s.ecnCounts[0])
		p += putVarint(b[p:], s.ecnCounts[1])
		p += putVarint(b[p:], s.ecnCounts[2])
	}
	return p, nil
}

// decode parses the ACK payload that follows the type byte. typeByte
// distinguishes ACK from ACK_ECN. It reconstructs the acknowledged
// (smallest,largest) ranges directly, largest range first, per RFC 9000
// Section 19.3.1: each (gap, ack_range_length) pair walks one range further
// below the previous range's smallest packet number.
func (s *ackFrame) decode(b []byte, typeByte uint64) (int, error) {
	s.ecn = typeByte == frameTypeAckECN
	p := 0
	n := getVarint(b[p:], &s.largestAck)
	if n == 0 {
		return 0, newError(MalformedFrame, "ack: largest")
	}
	p += n
	n = getVarint(b[p:], &s.ackDelay)
	if n == 0 {
		return 0, newError(MalformedFrame, "ack: delay")
	}
	p += n
	var count uint64
	n = getVarint(b[p:], &count)
	if n == 0 {
		return 0, newError(MalformedFrame, "ack: count")
	}
	if count > quicPnMaxGabs {
		return 0, errRangeCount
	}
	p += n
	n = getVarint(b[p:], &s.firstAckRange)
	if n == 0 {
		return 0, newError(MalformedFrame, "ack: first range")
	}
	p += n
	if s.firstAckRange > s.largestAck {
		return 0, newError(MalformedFrame, "ack: first range exceeds largest")
	}
	smallest := s.largestAck - s.firstAckRange
	s.ranges = append(s.ranges[:0], ackRange{smallest: smallest, largest: s.largestAck})
	for i := uint64(0); i < count; i++ {
		var gap, length uint64
		n = getVarint(b[p:], &gap)
		if n == 0 {
			return 0, newError(MalformedFrame, "ack: gap")
		}
		p += n
		n = getVarint(b[p:], &length)
		if n == 0 {
			return 0, newError(MalformedFrame, "ack: range length")
		}
		p += n
		if gap+2 > smallest {
			return 0, newError(MalformedFrame, "ack: gap underflows packet number space")
		}
		largest := smallest - gap - 2
		if length > largest {
			return 0, newError(MalformedFrame, "ack: range length underflows packet number space")
		}
		smallest = largest - length
		s.ranges = append(s.ranges, ackRange{smallest: smallest, largest: largest})
	}
	if s.ecn {
		for i := 0; i < 3; i++ {
			n = getVarint(b[p:], &s.ecnCounts[i])
			if n == 0 {
				return 0, newError(MalformedFrame, "ack: ecn counts")
			}
			p += n
		}
	}
	return p, nil
}

// toRangeSet returns the ranges produced by decode, largest range first.
func (s *ackFrame) toRangeSet() []ackRange {
	return s.ranges
}

func (s *ackFrame) String() string {
	return fmt.Sprintf("ack largest=%d delay=%d ranges=%d", s.largestAck, s.ackDelay, len(s.gaps)+1)
}

// ---- RESET_STREAM ----

type resetStreamFrame struct {
	streamID  uint64
	errorCode uint64
	finalSize uint64
}

func newResetStreamFrame(streamID, errorCode, finalSize uint64) *resetStreamFrame {
	return &resetStreamFrame{streamID: streamID, errorCode: errorCode, finalSize: finalSize}
}

func (s *resetStreamFrame) encodedLen() int {
	return varintLen(frameTypeResetStream) + varintLen(s.streamID) + varintLen(s.errorCode) + varintLen(s.finalSize)
}

func (s *resetStreamFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypeResetStream)
	p += putVarint(b[p:], s.streamID)
	p += putVarint(b[p:], s.errorCode)
	p += putVarint(b[p:], s.finalSize)
	return p, nil
}

func (s *resetStreamFrame) decode(b []byte) (int, error) {
	p := 0
	for _, out := range []*uint64{&s.streamID, &s.errorCode, &s.finalSize} {
		n := getVarint(b[p:], out)
		if n == 0 {
			return 0, newError(MalformedFrame, "reset_stream")
		}
		p += n
	}
	return p, nil
}

func (s *resetStreamFrame) String() string {
	return fmt.Sprintf("reset_stream id=%d error=%d final_size=%d", s.streamID, s.errorCode, s.finalSize)
}

// ---- STOP_SENDING ----

type stopSendingFrame struct {
	streamID  uint64
	errorCode uint64
}

func newStopSendingFrame(streamID, errorCode uint64) *stopSendingFrame {
	return &stopSendingFrame{streamID: streamID, errorCode: errorCode}
}

func (s *stopSendingFrame) encodedLen() int {
	return varintLen(frameTypeStopSending) + varintLen(s.streamID) + varintLen(s.errorCode)
}

func (s *stopSendingFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypeStopSending)
	p += putVarint(b[p:], s.streamID)
	p += putVarint(b[p:], s.errorCode)
	return p, nil
}

func (s *stopSendingFrame) decode(b []byte) (int, error) {
	p := 0
	n := getVarint(b[p:], &s.streamID)
	if n == 0 {
		return 0, newError(MalformedFrame, "stop_sending: stream id")
	}
	p += n
	n = getVarint(b[p:], &s.errorCode)
	if n == 0 {
		return 0, newError(MalformedFrame, "stop_sending: error code")
	}
	p += n
	return p, nil
}

func (s *stopSendingFrame) String() string {
	return fmt.Sprintf("stop_sending id=%d error=%d", s.streamID, s.errorCode)
}

// ---- CRYPTO ----

type cryptoFrame struct {
	offset uint64
	data   []byte
}

func newCryptoFrame(data []byte, offset uint64) *cryptoFrame {
	return &cryptoFrame{data: data, offset: offset}
}

func (s *cryptoFrame) encodedLen() int {
	return varintLen(frameTypeCrypto) + varintLen(s.offset) + varintLen(uint64(len(s.data))) + len(s.data)
}

func (s *cryptoFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypeCrypto)
	p += putVarint(b[p:], s.offset)
	p += putVarint(b[p:], uint64(len(s.data)))
	p += copy(b[p:], s.data)
	return p, nil
}

func (s *cryptoFrame) decode(b []byte) (int, error) {
	p := 0
	n := getVarint(b[p:], &s.offset)
	if n == 0 {
		return 0, newError(MalformedFrame, "crypto: offset")
	}
	p += n
	var length uint64
	n = getVarint(b[p:], &length)
	if n == 0 {
		return 0, newError(MalformedFrame, "crypto: length")
	}
	p += n
	if uint64(len(b)-p) < length {
		return 0, newError(MalformedFrame, "crypto: truncated data")
	}
	s.data = append([]byte(nil), b[p:p+int(length)]...)
	p += int(length)
	return p, nil
}

func (s *cryptoFrame) String() string {
	return fmt.Sprintf("crypto offset=%d len=%d", s.offset, len(s.data))
}

// ---- NEW_TOKEN ----

type newTokenFrame struct {
	token []byte
}

func newNewTokenFrame(token []byte) *newTokenFrame {
	return &newTokenFrame{token: token}
}

func (s *newTokenFrame) encodedLen() int {
	return varintLen(frameTypeNewToken) + varintLen(uint64(len(s.token))) + len(s.token)
}

func (s *newTokenFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypeNewToken)
	p += putVarint(b[p:], uint64(len(s.token)))
	p += copy(b[p:], s.token)
	return p, nil
}

func (s *newTokenFrame) decode(b []byte) (int, error) {
	p := 0
	var length uint64
	n := getVarint(b[p:], &length)
	if n == 0 {
		return 0, newError(MalformedFrame, "new_token: length")
	}
	p += n
	if length == 0 {
		return 0, newError(MalformedFrame, "new_token: empty token")
	}
	if uint64(len(b)-p) < length {
		return 0, newError(MalformedFrame, "new_token: truncated")
	}
	s.token = append([]byte(nil), b[p:p+int(length)]...)
	p += int(length)
	return p, nil
}

func (s *newTokenFrame) String() string {
	return fmt.Sprintf("new_token len=%d", len(s.token))
}

// ---- STREAM ----

type streamFrame struct {
	streamID uint64
	offset   uint64
	data     []byte
	fin      bool
}

func newStreamFrame(streamID uint64, data []byte, offset uint64, fin bool) *streamFrame {
	return &streamFrame{streamID: streamID, data: data, offset: offset, fin: fin}
}

func (s *streamFrame) typeByte() uint64 {
	t := uint64(frameTypeStream)
	if s.offset != 0 {
		t |= streamBitOff
	}
	t |= streamBitLen
	if s.fin {
		t |= streamBitFin
	}
	return t
}

func (s *streamFrame) encodedLen() int {
	n := varintLen(s.typeByte()) + varintLen(s.streamID)
	if s.offset != 0 {
		n += varintLen(s.offset)
	}
	n += varintLen(uint64(len(s.data))) + len(s.data)
	return n
}

func (s *streamFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, s.typeByte())
	p += putVarint(b[p:], s.streamID)
	if s.offset != 0 {
		p += putVarint(b[p:], s.offset)
	}
	p += putVarint(b[p:], uint64(len(s.data)))
	p += copy(b[p:], s.data)
	return p, nil
}

// decode parses a STREAM frame body. typeByte carries the OFF/LEN/FIN bits
// already stripped from the type varint by the caller.
func (s *streamFrame) decode(b []byte, typeByte uint64) (int, error) {
	p := 0
	n := getVarint(b[p:], &s.streamID)
	if n == 0 {
		return 0, newError(MalformedFrame, "stream: id")
	}
	p += n
	s.offset = 0
	if typeByte&streamBitOff != 0 {
		n = getVarint(b[p:], &s.offset)
		if n == 0 {
			return 0, newError(MalformedFrame, "stream: offset")
		}
		p += n
	}
	var length uint64
	if typeByte&streamBitLen != 0 {
		n = getVarint(b[p:], &length)
		if n == 0 {
			return 0, newError(MalformedFrame, "stream: length")
		}
		p += n
	} else {
		length = uint64(len(b) - p)
	}
	if uint64(len(b)-p) < length {
		return 0, newError(MalformedFrame, "stream: truncated data")
	}
	s.data = append([]byte(nil), b[p:p+int(length)]...)
	p += int(length)
	s.fin = typeByte&streamBitFin != 0
	return p, nil
}

func (s *streamFrame) String() string {
	return fmt.Sprintf("stream id=%d offset=%d len=%d fin=%v", s.streamID, s.offset, len(s.data), s.fin)
}

// buildStreamFrame lays out as much of st's pending send buffer as fits in
// left bytes, truncating the data (never the header) and clearing fin if the
// stream's end-of-data byte didn't make it into this frame. Returns nil if
// nothing is available to send.
func buildStreamFrame(st *Stream, id uint64, left int) *streamFrame {
	offset := st.sendOffset()
	hlen := varintLen(frameTypeStream|streamBitLen) + varintLen(id)
	if offset != 0 {
		hlen += varintLen(offset)
	}
	// Reserve room for the length varint assuming the worst case for the
	// space available, then re-check once the true length is known: an
	// 8-byte length varint only applies at lengths no single packet reaches,
	// so reserving varintLen(left) up front is always sufficient.
	avail := left - hlen - varintLen(uint64(left))
	if avail <= 0 {
		return nil
	}
	data, _, fin := st.popSend(avail)
	if len(data) == 0 && !fin {
		return nil
	}
	return newStreamFrame(id, data, offset, fin)
}

// ---- MAX_DATA ----

type maxDataFrame struct {
	maximumData uint64
}

func newMaxDataFrame(maximumData uint64) *maxDataFrame {
	return &maxDataFrame{maximumData: maximumData}
}

func (s *maxDataFrame) encodedLen() int {
	return varintLen(frameTypeMaxData) + varintLen(s.maximumData)
}

func (s *maxDataFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypeMaxData)
	p += putVarint(b[p:], s.maximumData)
	return p, nil
}

func (s *maxDataFrame) decode(b []byte) (int, error) {
	n := getVarint(b, &s.maximumData)
	if n == 0 {
		return 0, newError(MalformedFrame, "max_data")
	}
	return n, nil
}

func (s *maxDataFrame) String() string {
	return fmt.Sprintf("max_data maximum=%d", s.maximumData)
}

// ---- MAX_STREAM_DATA ----

type maxStreamDataFrame struct {
	streamID    uint64
	maximumData uint64
}

func newMaxStreamDataFrame(streamID, maximumData uint64) *maxStreamDataFrame {
	return &maxStreamDataFrame{streamID: streamID, maximumData: maximumData}
}

func (s *maxStreamDataFrame) encodedLen() int {
	return varintLen(frameTypeMaxStreamData) + varintLen(s.streamID) + varintLen(s.maximumData)
}

func (s *maxStreamDataFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypeMaxStreamData)
	p += putVarint(b[p:], s.streamID)
	p += putVarint(b[p:], s.maximumData)
	return p, nil
}

func (s *maxStreamDataFrame) decode(b []byte) (int, error) {
	p := 0
	n := getVarint(b[p:], &s.streamID)
	if n == 0 {
		return 0, newError(MalformedFrame, "max_stream_data: id")
	}
	p += n
	n = getVarint(b[p:], &s.maximumData)
	if n == 0 {
		return 0, newError(MalformedFrame, "max_stream_data: maximum")
	}
	p += n
	return p, nil
}

func (s *maxStreamDataFrame) String() string {
	return fmt.Sprintf("max_stream_data id=%d maximum=%d", s.streamID, s.maximumData)
}

// ---- MAX_STREAMS ----

type maxStreamsFrame struct {
	bidi           bool
	maximumStreams uint64
}

func newMaxStreamsFrame(maximumStreams uint64, bidi bool) *maxStreamsFrame {
	return &maxStreamsFrame{bidi: bidi, maximumStreams: maximumStreams}
}

func (s *maxStreamsFrame) typeByte() uint64 {
	if s.bidi {
		return frameTypeMaxStreamsBidi
	}
	return frameTypeMaxStreamsUni
}

func (s *maxStreamsFrame) encodedLen() int {
	return varintLen(s.typeByte()) + varintLen(s.maximumStreams)
}

func (s *maxStreamsFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, s.typeByte())
	p += putVarint(b[p:], s.maximumStreams)
	return p, nil
}

func (s *maxStreamsFrame) decode(b []byte, typeByte uint64) (int, error) {
	s.bidi = typeByte == frameTypeMaxStreamsBidi
	n := getVarint(b, &s.maximumStreams)
	if n == 0 {
		return 0, newError(MalformedFrame, "max_streams")
	}
	return n, nil
}

func (s *maxStreamsFrame) String() string {
	return fmt.Sprintf("max_streams bidi=%v maximum=%d", s.bidi, s.maximumStreams)
}

// ---- DATA_BLOCKED ----

type dataBlockedFrame struct {
	dataLimit uint64
}

func newDataBlockedFrame(dataLimit uint64) *dataBlockedFrame {
	return &dataBlockedFrame{dataLimit: dataLimit}
}

func (s *dataBlockedFrame) encodedLen() int {
	return varintLen(frameTypeDataBlocked) + varintLen(s.dataLimit)
}

func (s *dataBlockedFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypeDataBlocked)
	p += putVarint(b[p:], s.dataLimit)
	return p, nil
}

func (s *dataBlockedFrame) decode(b []byte) (int, error) {
	n := getVarint(b, &s.dataLimit)
	if n == 0 {
		return 0, newError(MalformedFrame, "data_blocked")
	}
	return n, nil
}

func (s *dataBlockedFrame) String() string {
	return fmt.Sprintf("data_blocked limit=%d", s.dataLimit)
}

// ---- STREAM_DATA_BLOCKED ----

type streamDataBlockedFrame struct {
	streamID  uint64
	dataLimit uint64
}

func newStreamDataBlockedFrame(streamID, dataLimit uint64) *streamDataBlockedFrame {
	return &streamDataBlockedFrame{streamID: streamID, dataLimit: dataLimit}
}

func (s *streamDataBlockedFrame) encodedLen() int {
	return varintLen(frameTypeStreamDataBlocked) + varintLen(s.streamID) + varintLen(s.dataLimit)
}

func (s *streamDataBlockedFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypeStreamDataBlocked)
	p += putVarint(b[p:], s.streamID)
	p += putVarint(b[p:], s.dataLimit)
	return p, nil
}

func (s *streamDataBlockedFrame) decode(b []byte) (int, error) {
	p := 0
	n := getVarint(b[p:], &s.streamID)
	if n == 0 {
		return 0, newError(MalformedFrame, "stream_data_blocked: id")
	}
	p += n
	n = getVarint(b[p:], &s.dataLimit)
	if n == 0 {
		return 0, newError(MalformedFrame, "stream_data_blocked: limit")
	}
	p += n
	return p, nil
}

func (s *streamDataBlockedFrame) String() string {
	return fmt.Sprintf("stream_data_blocked id=%d limit=%d", s.streamID, s.dataLimit)
}

// ---- STREAMS_BLOCKED ----

type streamsBlockedFrame struct {
	bidi        bool
	streamLimit uint64
}

func newStreamsBlockedFrame(streamLimit uint64, bidi bool) *streamsBlockedFrame {
	return &streamsBlockedFrame{bidi: bidi, streamLimit: streamLimit}
}

func (s *streamsBlockedFrame) typeByte() uint64 {
	if s.bidi {
		return frameTypeStreamsBlockedBidi
	}
	return frameTypeStreamsBlockedUni
}

func (s *streamsBlockedFrame) encodedLen() int {
	return varintLen(s.typeByte()) + varintLen(s.streamLimit)
}

func (s *streamsBlockedFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, s.typeByte())
	p += putVarint(b[p:], s.streamLimit)
	return p, nil
}

func (s *streamsBlockedFrame) decode(b []byte, typeByte uint64) (int, error) {
	s.bidi = typeByte == frameTypeStreamsBlockedBidi
	n := getVarint(b, &s.streamLimit)
	if n == 0 {
		return 0, newError(MalformedFrame, "streams_blocked")
	}
	return n, nil
}

func (s *streamsBlockedFrame) String() string {
	return fmt.Sprintf("streams_blocked bidi=%v limit=%d", s.bidi, s.streamLimit)
}

// ---- NEW_CONNECTION_ID ----

type newConnectionIDFrame struct {
	seqNum       uint64
	retirePrior  uint64
	connectionID []byte
	resetToken   [16]byte
}

func newNewConnectionIDFrame(seqNum, retirePrior uint64, cid []byte, resetToken [16]byte) *newConnectionIDFrame {
	return &newConnectionIDFrame{seqNum: seqNum, retirePrior: retirePrior, connectionID: cid, resetToken: resetToken}
}

func (s *newConnectionIDFrame) encodedLen() int {
	return varintLen(frameTypeNewConnectionID) + varintLen(s.seqNum) + varintLen(s.retirePrior) +
		1 + len(s.connectionID) + 16
}

func (s *newConnectionIDFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypeNewConnectionID)
	p += putVarint(b[p:], s.seqNum)
	p += putVarint(b[p:], s.retirePrior)
	b[p] = byte(len(s.connectionID))
	p++
	p += copy(b[p:], s.connectionID)
	p += copy(b[p:], s.resetToken[:])
	return p, nil
}

func (s *newConnectionIDFrame) decode(b []byte) (int, error) {
	p := 0
	n := getVarint(b[p:], &s.seqNum)
	if n == 0 {
		return 0, newError(MalformedFrame, "new_connection_id: seq")
	}
	p += n
	n = getVarint(b[p:], &s.retirePrior)
	if n == 0 {
		return 0, newError(MalformedFrame, "new_connection_id: retire_prior")
	}
	p += n
	if s.retirePrior > s.seqNum {
		return 0, newError(ProtocolViolation, "new_connection_id: retire_prior exceeds seq")
	}
	if p >= len(b) {
		return 0, newError(MalformedFrame, "new_connection_id: length")
	}
	cidLen := int(b[p])
	p++
	if cidLen == 0 || cidLen > MaxCIDLength {
		return 0, newError(FrameEncodingError, "new_connection_id: invalid length")
	}
	if len(b)-p < cidLen+16 {
		return 0, newError(MalformedFrame, "new_connection_id: truncated")
	}
	s.connectionID = append([]byte(nil), b[p:p+cidLen]...)
	p += cidLen
	copy(s.resetToken[:], b[p:p+16])
	p += 16
	return p, nil
}

func (s *newConnectionIDFrame) String() string {
	return fmt.Sprintf("new_connection_id seq=%d retire_prior=%d len=%d", s.seqNum, s.retirePrior, len(s.connectionID))
}

// ---- RETIRE_CONNECTION_ID ----

type retireConnectionIDFrame struct {
	seqNum uint64
}

func newRetireConnectionIDFrame(seqNum uint64) *retireConnectionIDFrame {
	return &retireConnectionIDFrame{seqNum: seqNum}
}

func (s *retireConnectionIDFrame) encodedLen() int {
	return varintLen(frameTypeRetireConnectionID) + varintLen(s.seqNum)
}

func (s *retireConnectionIDFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypeRetireConnectionID)
	p += putVarint(b[p:], s.seqNum)
	return p, nil
}

func (s *retireConnectionIDFrame) decode(b []byte) (int, error) {
	n := getVarint(b, &s.seqNum)
	if n == 0 {
		return 0, newError(MalformedFrame, "retire_connection_id")
	}
	return n, nil
}

func (s *retireConnectionIDFrame) String() string {
	return fmt.Sprintf("retire_connection_id seq=%d", s.seqNum)
}

// ---- PATH_CHALLENGE / PATH_RESPONSE ----

type pathChallengeFrame struct {
	data [8]byte
}

func newPathChallengeFrame(data [8]byte) *pathChallengeFrame {
	return &pathChallengeFrame{data: data}
}

func (s *pathChallengeFrame) encodedLen() int { return varintLen(frameTypePathChallenge) + 8 }

func (s *pathChallengeFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypePathChallenge)
	p += copy(b[p:], s.data[:])
	return p, nil
}

func (s *pathChallengeFrame) decode(b []byte) (int, error) {
	if len(b) < 8 {
		return 0, newError(MalformedFrame, "path_challenge")
	}
	copy(s.data[:], b[:8])
	return 8, nil
}

func (s *pathChallengeFrame) String() string { return "path_challenge" }

type pathResponseFrame struct {
	data [8]byte
}

func newPathResponseFrame(data [8]byte) *pathResponseFrame {
	return &pathResponseFrame{data: data}
}

func (s *pathResponseFrame) encodedLen() int { return varintLen(frameTypePathResponse) + 8 }

func (s *pathResponseFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, frameTypePathResponse)
	p += copy(b[p:], s.data[:])
	return p, nil
}

func (s *pathResponseFrame) decode(b []byte) (int, error) {
	if len(b) < 8 {
		return 0, newError(MalformedFrame, "path_response")
	}
	copy(s.data[:], b[:8])
	return 8, nil
}

func (s *pathResponseFrame) String() string { return "path_response" }

// ---- CONNECTION_CLOSE ----

// maxCloseReasonWireLen bounds the wire-encoded reason phrase, NUL terminator
// included. RFC 9000 puts no such limit on CONNECTION_CLOSE; this transport
// does, to keep the frame out of a packet-filling budget calculation.
const maxCloseReasonWireLen = 80

type connectionCloseFrame struct {
	application  bool
	errorCode    uint64
	frameType    uint64 // only meaningful when !application
	reasonPhrase []byte
}

func newConnectionCloseFrame(errorCode, frameType uint64, reasonPhrase []byte, application bool) *connectionCloseFrame {
	return &connectionCloseFrame{
		application:  application,
		errorCode:    errorCode,
		frameType:    frameType,
		reasonPhrase: reasonPhrase,
	}
}

func (s *connectionCloseFrame) typeByte() uint64 {
	if s.application {
		return frameTypeApplicationClose
	}
	return frameTypeConnectionClose
}

// wirePhrase returns the reason phrase as it goes on the wire: the plain
// text followed by a single NUL terminator, so an empty phrase still occupies
// one byte. decode strips the terminator back off before storing the field.
func (s *connectionCloseFrame) wirePhrase() []byte {
	b := make([]byte, len(s.reasonPhrase)+1)
	copy(b, s.reasonPhrase)
	return b
}

func (s *connectionCloseFrame) encodedLen() int {
	n := varintLen(s.typeByte()) + varintLen(s.errorCode)
	if !s.application {
		n += varintLen(s.frameType)
	}
	wire := s.wirePhrase()
	n += varintLen(uint64(len(wire))) + len(wire)
	return n
}

func (s *connectionCloseFrame) encode(b []byte) (int, error) {
	if len(b) < s.encodedLen() {
		return 0, errShortBuffer
	}
	p := putVarint(b, s.typeByte())
	p += putVarint(b[p:], s.errorCode)
	if !s.application {
		p += putVarint(b[p:], s.frameType)
	}
	wire := s.wirePhrase()
	p += putVarint(b[p:], uint64(len(wire)))
	p += copy(b[p:], wire)
	return p, nil
}

// decode parses the CONNECTION_CLOSE/APPLICATION_CLOSE payload. The reason
// phrase is rejected outright past maxCloseReasonWireLen bytes, and must be
// NUL-terminated on the wire; the stored reasonPhrase field holds the plain
// text with that terminator stripped.
func (s *connectionCloseFrame) decode(b []byte, typeByte uint64) (int, error) {
	s.application = typeByte == frameTypeApplicationClose
	p := 0
	n := getVarint(b[p:], &s.errorCode)
	if n == 0 {
		return 0, newError(MalformedFrame, "connection_close: error code")
	}
	p += n
	if !s.application {
		n = getVarint(b[p:], &s.frameType)
		if n == 0 {
			return 0, newError(MalformedFrame, "connection_close: frame type")
		}
		p += n
	}
	var length uint64
	n = getVarint(b[p:], &length)
	if n == 0 {
		return 0, newError(MalformedFrame, "connection_close: reason length")
	}
	p += n
	if length > maxCloseReasonWireLen {
		return 0, newError(MalformedFrame, "connection_close: reason too long")
	}
	if uint64(len(b)-p) < length {
		return 0, newError(MalformedFrame, "connection_close: truncated reason")
	}
	phrase := b[p : p+int(length)]
	if length == 0 {
		s.reasonPhrase = nil
	} else {
		if phrase[length-1] != 0 {
			return 0, newError(MalformedFrame, "connection_close: reason not nul-terminated")
		}
		s.reasonPhrase = append([]byte(nil), phrase[:length-1]...)
	}
	p += int(length)
	return p, nil
}

func (s *connectionCloseFrame) String() string {
	return fmt.Sprintf("connection_close application=%v error=%d reason=%q", s.application, s.errorCode, s.reasonPhrase)
}

// ---- HANDSHAKE_DONE ----

type handshakeDoneFrame struct{}

func newHandshakeDoneFrame() *handshakeDoneFrame { return &handshakeDoneFrame{} }

func (s *handshakeDoneFrame) encodedLen() int { return 1 }

func (s *handshakeDoneFrame) encode(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, errShortBuffer
	}
	return putVarint(b, frameTypeHanshakeDone), nil
}

func (s *handshakeDoneFrame) decode(b []byte) (int, error) { return 0, nil }

func (s *handshakeDoneFrame) String() string { return "handshake_done" }
