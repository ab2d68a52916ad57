package transport

import "time"

// frameParseFunc decodes one frame's payload (b starts immediately after the
// type byte) and applies its side effects to s. It returns the number of
// payload bytes consumed.
type frameParseFunc func(s *Conn, b []byte, typeByte uint64, space packetSpace, now time.Time) (int, error)

// frameBuildFunc constructs one frame from typed params, for frameCreate.
// typeByte disambiguates the alias slots that share one builder (ACK vs
// ACK_ECN, bidi vs uni MAX_STREAMS/STREAMS_BLOCKED, CONNECTION_CLOSE vs
// APPLICATION_CLOSE).
type frameBuildFunc func(s *Conn, typeByte uint64, params interface{}) (frame, error)

// frameOp pairs the parser used on the receive path with the builder used
// by frameCreate, both indexed by frame type byte so spec.md's dispatch
// table is a single array lookup rather than two separate switches.
type frameOp struct {
	parse frameParseFunc
	build frameBuildFunc
}

// frameOps is indexed by frame type byte, 0..frameTypeBaseMax. Several
// entries alias the same parser/builder pair: both ACK variants, every
// STREAM variant, both MAX_STREAMS/STREAMS_BLOCKED variants, and both
// CONNECTION_CLOSE variants route to functions that inspect the original
// type byte to recover which variant it was.
var frameOps = [frameTypeBaseMax + 1]frameOp{
	frameTypePadding:            {parsePaddingFrame, buildPaddingFrame},
	frameTypePing:               {parsePingFrame, buildPingFrame},
	frameTypeAck:                {parseAckFrame, buildAckFrame},
	frameTypeAckECN:             {parseAckFrame, buildAckFrame},
	frameTypeResetStream:        {parseResetStreamFrame, buildResetStreamFrame},
	frameTypeStopSending:        {parseStopSendingFrame, buildStopSendingFrame},
	frameTypeCrypto:             {parseCryptoFrame, buildCryptoFrame},
	frameTypeNewToken:           {parseNewTokenFrame, buildNewTokenFrame},
	frameTypeStream + 0:         {parseStreamFrame, buildStreamFrameOp},
	frameTypeStream + 1:         {parseStreamFrame, buildStreamFrameOp},
	frameTypeStream + 2:         {parseStreamFrame, buildStreamFrameOp},
	frameTypeStream + 3:         {parseStreamFrame, buildStreamFrameOp},
	frameTypeStream + 4:         {parseStreamFrame, buildStreamFrameOp},
	frameTypeStream + 5:         {parseStreamFrame, buildStreamFrameOp},
	frameTypeStream + 6:         {parseStreamFrame, buildStreamFrameOp},
	frameTypeStreamEnd:          {parseStreamFrame, buildStreamFrameOp},
	frameTypeMaxData:            {parseMaxDataFrame, buildMaxDataFrame},
	frameTypeMaxStreamData:      {parseMaxStreamDataFrame, buildMaxStreamDataFrame},
	frameTypeMaxStreamsBidi:     {parseMaxStreamsFrame, buildMaxStreamsFrame},
	frameTypeMaxStreamsUni:      {parseMaxStreamsFrame, buildMaxStreamsFrame},
	frameTypeDataBlocked:        {parseDataBlockedFrame, buildDataBlockedFrame},
	frameTypeStreamDataBlocked:  {parseStreamDataBlockedFrame, buildStreamDataBlockedFrame},
	frameTypeStreamsBlockedBidi: {parseStreamsBlockedFrame, buildStreamsBlockedFrame},
	frameTypeStreamsBlockedUni:  {parseStreamsBlockedFrame, buildStreamsBlockedFrame},
	frameTypeNewConnectionID:    {parseNewConnectionIDFrame, buildNewConnectionIDFrame},
	frameTypeRetireConnectionID: {parseRetireConnectionIDFrame, buildRetireConnectionIDFrame},
	frameTypePathChallenge:      {parsePathChallengeFrame, buildPathChallengeFrame},
	frameTypePathResponse:       {parsePathResponseFrame, buildPathResponseFrame},
	frameTypeConnectionClose:    {parseConnectionCloseFrame, buildConnectionCloseFrame},
	frameTypeApplicationClose:   {parseConnectionCloseFrame, buildConnectionCloseFrame},
	frameTypeHanshakeDone:       {parseHandshakeDoneFrame, buildHandshakeDoneFrame},
}

// isFrameAckEliciting reports whether receiving a frame of this type
// obligates an ACK eventually, RFC 9000 Section 13.2.
func isFrameAckEliciting(typ uint64) bool {
	switch typ {
	case frameTypePadding, frameTypeAck, frameTypeAckECN, frameTypeConnectionClose, frameTypeApplicationClose:
		return false
	default:
		return true
	}
}

// isFrameProbing reports whether a frame type is "probing", RFC 9000
// Section 9.3: a packet containing only these does not indicate the peer is
// still using its previous network path.
func isFrameProbing(typ uint64) bool {
	switch typ {
	case frameTypePathChallenge, frameTypePathResponse, frameTypeNewConnectionID, frameTypePadding:
		return true
	default:
		return false
	}
}

// frameProcess is the generic receive-side entry point: it walks payload,
// dispatching each frame through frameOps, and folds ack-eliciting /
// non-probing status into the owning packet number space and path state.
func frameProcess(s *Conn, payload []byte, space packetSpace, now time.Time) error {
	ackElicited := false
	nonProbing := false
	b := payload
	for len(b) > 0 {
		var typ uint64
		tn := getVarint(b, &typ)
		if tn == 0 {
			return newError(FrameEncodingError, "truncated frame type")
		}
		if typ > frameTypeBaseMax {
			return newError(FrameEncodingError, sprint("unsupported frame ", typ))
		}
		op := frameOps[typ]
		if op.parse == nil {
			return newError(FrameEncodingError, sprint("unsupported frame ", typ))
		}
		n, err := op.parse(s, b[tn:], typ, space, now)
		if err != nil {
			debug("error processing frame 0x%x: %v", typ, err)
			return err
		}
		if !ackElicited {
			ackElicited = isFrameAckEliciting(typ)
		}
		if !nonProbing {
			nonProbing = !isFrameProbing(typ)
		}
		b = b[tn+n:]
	}
	if ackElicited {
		s.packetNumberSpaces[space].ackElicited = true
	}
	if nonProbing && space == packetSpaceApplication {
		s.onNonProbingReceived(now)
	}
	return nil
}

// frameCreate builds one frame on demand for a caller assembling a packet by
// hand and returns its fully encoded bytes; sendFrames does not go through
// it but constructs the frames it sends directly. typeByte must be a base frame
// type, <= frameTypeBaseMax; params carries whatever that type's builder
// needs, see the *Params types below.
func frameCreate(s *Conn, typeByte uint64, params interface{}) ([]byte, error) {
	if typeByte > frameTypeBaseMax {
		return nil, newError(InternalError, sprint("frameCreate: unsupported type ", typeByte))
	}
	build := frameOps[typeByte].build
	if build == nil {
		return nil, newError(InternalError, sprint("frameCreate: unsupported type ", typeByte))
	}
	f, err := build(s, typeByte, params)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, f.encodedLen())
	n, err := f.encode(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

type ackParams struct {
	PN       pnMap
	AckDelay uint64
	ECT0     uint64
	ECT1     uint64
	CE       uint64
}

type streamParams struct {
	StreamID uint64
	Data     []byte
	Offset   uint64
	Fin      bool
}

type cryptoParams struct {
	Data []byte
}

type newTokenParams struct {
	Token []byte
}

type maxStreamDataParams struct {
	StreamID uint64
	Max      uint64
}

type resetStreamParams struct {
	StreamID  uint64
	ErrorCode uint64
	FinalSize uint64
}

type stopSendingParams struct {
	StreamID  uint64
	ErrorCode uint64
}

type maxStreamsParams struct {
	Max uint64
}

type streamDataBlockedParams struct {
	StreamID  uint64
	DataLimit uint64
}

type streamsBlockedParams struct {
	StreamLimit uint64
}

type newConnectionIDParams struct {
	SeqNum      uint64
	RetirePrior uint64
	CID         []byte
	ResetToken  [16]byte
}

type connectionCloseParams struct {
	ErrorCode uint64
	FrameType uint64
	Reason    []byte
}

// ---- builders, one per table entry ----

func buildPaddingFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	n, _ := params.(int)
	return newPaddingFrame(n), nil
}

func buildPingFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	return newPingFrame(), nil
}

func buildAckFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(ackParams)
	if typeByte == frameTypeAckECN {
		return newAckECNFrame(p.AckDelay, p.PN, p.ECT0, p.ECT1, p.CE), nil
	}
	return newAckFrame(p.AckDelay, p.PN), nil
}

func buildResetStreamFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(resetStreamParams)
	return newResetStreamFrame(p.StreamID, p.ErrorCode, p.FinalSize), nil
}

func buildStopSendingFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(stopSendingParams)
	return newStopSendingFrame(p.StreamID, p.ErrorCode), nil
}

// buildCryptoFrame always emits offset 0, matching this frame's decode-side
// restriction: CRYPTO frames this layer builds carry exactly one complete
// session ticket, never a fragment at a later offset.
func buildCryptoFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(cryptoParams)
	return newCryptoFrame(p.Data, 0), nil
}

func buildNewTokenFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(newTokenParams)
	return newNewTokenFrame(p.Token), nil
}

// buildStreamFrameOp builds a literal STREAM frame from explicit params.
// Unlike buildStreamFrame (which fits a stream's pending send data into a
// byte budget), it performs no truncation.
func buildStreamFrameOp(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(streamParams)
	return newStreamFrame(p.StreamID, p.Data, p.Offset, p.Fin), nil
}

func buildMaxDataFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	max, _ := params.(uint64)
	return newMaxDataFrame(max), nil
}

func buildMaxStreamDataFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(maxStreamDataParams)
	return newMaxStreamDataFrame(p.StreamID, p.Max), nil
}

func buildMaxStreamsFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(maxStreamsParams)
	return newMaxStreamsFrame(p.Max, typeByte == frameTypeMaxStreamsBidi), nil
}

func buildDataBlockedFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	limit, _ := params.(uint64)
	return newDataBlockedFrame(limit), nil
}

func buildStreamDataBlockedFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(streamDataBlockedParams)
	return newStreamDataBlockedFrame(p.StreamID, p.DataLimit), nil
}

func buildStreamsBlockedFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(streamsBlockedParams)
	return newStreamsBlockedFrame(p.StreamLimit, typeByte == frameTypeStreamsBlockedBidi), nil
}

func buildNewConnectionIDFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(newConnectionIDParams)
	return newNewConnectionIDFrame(p.SeqNum, p.RetirePrior, p.CID, p.ResetToken), nil
}

func buildRetireConnectionIDFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	seq, _ := params.(uint64)
	return newRetireConnectionIDFrame(seq), nil
}

func buildPathChallengeFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	data, _ := params.([8]byte)
	return newPathChallengeFrame(data), nil
}

func buildPathResponseFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	data, _ := params.([8]byte)
	return newPathResponseFrame(data), nil
}

func buildConnectionCloseFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	p, _ := params.(connectionCloseParams)
	return newConnectionCloseFrame(p.ErrorCode, p.FrameType, p.Reason, typeByte == frameTypeApplicationClose), nil
}

func buildHandshakeDoneFrame(s *Conn, typeByte uint64, params interface{}) (frame, error) {
	return newHandshakeDoneFrame(), nil
}

// ---- parsers, one per table entry ----

func parsePaddingFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f paddingFrame
	n, err := f.decode(b)
	s.logFrameProcessed(&f, now)
	return n, err
}

func parsePingFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f pingFrame
	s.logFrameProcessed(&f, now)
	return 0, nil
}

func parseAckFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f ackFrame
	n, err := f.decode(b, typ)
	if err != nil {
		return 0, err
	}
	ranges := f.toRangeSet()
	if ranges == nil {
		return 0, newError(FrameEncodingError, sprint("invalid ack ranges ", f.String()))
	}
	ackDelay := time.Duration((uint64(1)<<s.peerParams.AckDelayExponent)*f.ackDelay) * time.Microsecond
	s.recovery.onAckReceived(ranges, ackDelay, space, now)
	if !s.packetNumberSpaces[space].firstPacketAcked {
		s.packetNumberSpaces[space].firstPacketAcked = true
		if space == packetSpaceApplication && s.state == stateActive {
			s.dropPacketSpace(packetSpaceHandshake)
			if s.isClient && !s.handshakeConfirmed {
				s.handshakeConfirmed = true
			}
		}
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseResetStreamFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f resetStreamFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	local := isStreamLocal(f.streamID, s.isClient)
	bidi := isStreamBidi(f.streamID)
	if local && !bidi {
		return 0, newError(StreamStateError, sprint("reset stream ", f.streamID))
	}
	st, err := s.getOrCreateStream(f.streamID, false)
	if err != nil {
		return 0, err
	}
	mayRecv, err := st.recv.reset(f.finalSize)
	if err != nil {
		return 0, err
	}
	if s.flow.canRecv() < uint64(mayRecv) {
		return 0, errFlowControl
	}
	s.flow.addRecv(mayRecv)
	s.addEvent(newStreamResetEvent(f.streamID, f.errorCode))
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseStopSendingFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f stopSendingFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	local := isStreamLocal(f.streamID, s.isClient)
	if local && s.streams.get(f.streamID) == nil {
		return 0, newError(StreamStateError, sprint("stop sending stream ", f.streamID))
	}
	if !isStreamBidi(f.streamID) {
		return 0, newError(StreamStateError, sprint("stop sending stream ", f.streamID))
	}
	s.addEvent(newStreamStopEvent(f.streamID, f.errorCode))
	s.logFrameProcessed(&f, now)
	return n, nil
}

// tlsNewSessionTicketType is the TLS 1.3 HandshakeType (RFC 8446 Section 4)
// for a post-handshake NewSessionTicket message. Once the handshake has
// confirmed, the only thing a CRYPTO frame in the application packet number
// space carries is one of these (RFC 9001 Section 4.6.1); before that, CRYPTO
// frames carry the fragmented TLS handshake itself and are fed to the
// handshake's own crypto stream instead.
const tlsNewSessionTicketType = 4

func parseCryptoFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f cryptoFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	if space == packetSpaceApplication && s.handshakeConfirmed {
		if f.offset != 0 {
			return 0, newError(MalformedFrame, "crypto: nonzero offset for session ticket")
		}
		if len(f.data) == 0 || f.data[0] != tlsNewSessionTicketType {
			return 0, newError(MalformedFrame, "crypto: expected new session ticket")
		}
		s.sessionTicket = append([]byte(nil), f.data...)
		s.logFrameProcessed(&f, now)
		return n, nil
	}
	if err := s.packetNumberSpaces[space].cryptoStream.pushRecv(f.data, f.offset, false); err != nil {
		return 0, err
	}
	if err := s.doHandshake(); err != nil {
		return 0, err
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseNewTokenFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f newTokenFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.newToken = append([]byte(nil), f.token...)
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseStreamFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f streamFrame
	n, err := f.decode(b, typ)
	if err != nil {
		return 0, err
	}
	local := isStreamLocal(f.streamID, s.isClient)
	bidi := isStreamBidi(f.streamID)
	if local && !bidi {
		return 0, newError(StreamStateError, "writing not permitted")
	}
	if s.flow.canRecv() < uint64(len(f.data)) {
		return 0, errFlowControl
	}
	st, err := s.getOrCreateStream(f.streamID, false)
	if err != nil {
		return 0, err
	}
	if err := st.pushRecv(f.data, f.offset, f.fin); err != nil {
		return 0, err
	}
	s.flow.addRecv(len(f.data))
	s.addEvent(newStreamRecvEvent(f.streamID))
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseMaxDataFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f maxDataFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.flow.setMaxSend(f.maximumData)
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseMaxStreamDataFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f maxStreamDataFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	st, err := s.getOrCreateStream(f.streamID, false)
	if err != nil {
		return 0, err
	}
	st.flow.setMaxSend(f.maximumData)
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseMaxStreamsFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f maxStreamsFrame
	n, err := f.decode(b, typ)
	if err != nil {
		return 0, err
	}
	if f.bidi {
		s.streams.setPeerMaxStreamsBidi(f.maximumStreams)
	} else {
		s.streams.setPeerMaxStreamsUni(f.maximumStreams)
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseDataBlockedFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f dataBlockedFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.flow.requestUpdate()
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseStreamDataBlockedFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f streamDataBlockedFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	if st := s.streams.get(f.streamID); st != nil {
		st.flow.requestUpdate()
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseStreamsBlockedFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f streamsBlockedFrame
	n, err := f.decode(b, typ)
	if err != nil {
		return 0, err
	}
	if f.bidi {
		s.streams.wantMaxStreamsBidiUpdate = true
	} else {
		s.streams.wantMaxStreamsUniUpdate = true
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseNewConnectionIDFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f newConnectionIDFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.dcidSet.insert(f.seqNum, f.connectionID, f.resetToken[:])
	if f.retirePrior > 0 {
		retired := s.dcidSet.retireBelow(f.retirePrior)
		for _, seq := range retired {
			s.queueRetireConnectionID(seq)
		}
	}
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseRetireConnectionIDFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f retireConnectionIDFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.scidSet.retire(f.seqNum)
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parsePathChallengeFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f pathChallengeFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.queuePathResponse(f.data)
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parsePathResponseFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f pathResponseFrame
	n, err := f.decode(b)
	if err != nil {
		return 0, err
	}
	s.onPathResponse(f.data, now)
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseConnectionCloseFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f connectionCloseFrame
	n, err := f.decode(b, typ)
	if err != nil {
		return 0, err
	}
	s.state = stateDraining
	s.setDraining(now)
	s.logFrameProcessed(&f, now)
	return n, nil
}

func parseHandshakeDoneFrame(s *Conn, b []byte, typ uint64, space packetSpace, now time.Time) (int, error) {
	var f handshakeDoneFrame
	if !s.isClient {
		return 0, newError(ProtocolViolation, "unexpected handshake done frame")
	}
	if s.state == stateActive && !s.handshakeConfirmed {
		s.dropPacketSpace(packetSpaceHandshake)
		s.handshakeConfirmed = true
	}
	s.logFrameProcessed(&f, now)
	return 0, nil
}
