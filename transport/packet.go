package transport

import "time"

// Size limits, RFC 9000 Sections 14 and 17.2.
const (
	MaxCIDLength         = 20
	MaxPacketSize        = 65527
	MinInitialPacketSize = 1200
	minPayloadLength     = 4 // smallest payload that still clears the sample offset for header protection
)

type packetType uint8

const (
	packetTypeInitial packetType = iota
	packetTypeZeroRTT
	packetTypeHandshake
	packetTypeRetry
	packetTypeVersionNegotiation
	packetTypeShort
)

func (t packetType) String() string {
	switch t {
	case packetTypeInitial:
		return "initial"
	case packetTypeZeroRTT:
		return "0rtt"
	case packetTypeHandshake:
		return "handshake"
	case packetTypeRetry:
		return "retry"
	case packetTypeVersionNegotiation:
		return "version_negotiation"
	case packetTypeShort:
		return "short"
	default:
		return sprint("packet_type_", uint8(t))
	}
}

type packetSpace uint8

const (
	packetSpaceInitial packetSpace = iota
	packetSpaceHandshake
	packetSpaceApplication
	packetSpaceCount
)

func (s packetSpace) String() string {
	switch s {
	case packetSpaceInitial:
		return "initial"
	case packetSpaceHandshake:
		return "handshake"
	case packetSpaceApplication:
		return "application"
	default:
		return sprint("packet_space_", uint8(s))
	}
}

// packetTypeFromSpace maps a packet number space to the long-header packet
// type that carries it (the Application space uses the short header, which
// has no explicit packetType of its own on the wire beyond the form bit).
func packetTypeFromSpace(space packetSpace) packetType {
	switch space {
	case packetSpaceInitial:
		return packetTypeInitial
	case packetSpaceHandshake:
		return packetTypeHandshake
	default:
		return packetTypeShort
	}
}

// ProtocolVersion1 is RFC 9000's QUIC version 1, the only version this
// package negotiates. Config.Version defaults to it when left zero.
const ProtocolVersion1 = 0x00000001

const quicVersion1 = ProtocolVersion1

func versionSupported(v uint32) bool {
	return v == quicVersion1
}

// packetHeader is the decoded long or short header of one QUIC packet.
type packetHeader struct {
	dcil uint8 // expected length of dcid, supplied by the caller for short headers
	dcid []byte
	scid []byte
}

// packet describes one datagram's framing, independent of its encrypted
// payload.
type packet struct {
	typ               packetType
	header            packetHeader
	version           uint32
	token             []byte
	packetNumber      uint64
	packetNumberLen   int
	headerLen         int
	payloadLen        int
	supportedVersions []uint32
}

func (p *packet) String() string {
	return sprint(p.typ.String(), " pn=", p.packetNumber)
}

// PeekDestinationCID extracts just the destination connection ID from a
// datagram's header, letting a UDP listener demultiplex packets across
// connections before any Conn exists to decode the rest. dcidLen is the
// length this endpoint uses for connection IDs it has issued (needed for
// short headers, which carry no explicit length on the wire).
func PeekDestinationCID(b []byte, dcidLen int) ([]byte, error) {
	p := packet{header: packetHeader{dcil: uint8(dcidLen)}}
	if _, err := p.decodeHeader(b); err != nil {
		return nil, err
	}
	return append([]byte(nil), p.header.dcid...), nil
}

// decodeHeader parses just enough of b to learn the packet's type and
// connection IDs, used to select a packet number space before the body
// (and its protected packet number) can be decrypted.
func (p *packet) decodeHeader(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, newError(FrameEncodingError, "short packet")
	}
	first := b[0]
	if first&0x80 == 0 {
		// Short header: 0b0RKKPPPP, 1 reserved/key-phase bits, DCID of a
		// fixed, locally-known length follows.
		p.typ = packetTypeShort
		if len(b) < 1+int(p.header.dcil) {
			return 0, newError(FrameEncodingError, "short header too small")
		}
		p.header.dcid = b[1 : 1+int(p.header.dcil)]
		p.headerLen = 1 + int(p.header.dcil)
		return p.headerLen, nil
	}
	if len(b) < 5 {
		return 0, newError(FrameEncodingError, "long header too small")
	}
	var version uint32
	version = uint32(b[1])<<24 | uint32(b[2])<<16 | uint32(b[3])<<8 | uint32(b[4])
	off := 5
	dcil := int(b[off])
	off++
	if len(b) < off+dcil {
		return 0, newError(FrameEncodingError, "dcid truncated")
	}
	p.header.dcid = b[off : off+dcil]
	off += dcil
	if len(b) < off+1 {
		return 0, newError(FrameEncodingError, "scid length truncated")
	}
	scil := int(b[off])
	off++
	if len(b) < off+scil {
		return 0, newError(FrameEncodingError, "scid truncated")
	}
	p.header.scid = b[off : off+scil]
	off += scil
	p.version = version
	if version == 0 {
		p.typ = packetTypeVersionNegotiation
	} else {
		switch (first >> 4) & 0x3 {
		case 0:
			p.typ = packetTypeInitial
		case 1:
			p.typ = packetTypeZeroRTT
		case 2:
			p.typ = packetTypeHandshake
		case 3:
			p.typ = packetTypeRetry
		}
	}
	p.headerLen = off
	return off, nil
}

// decodeBody parses the remaining type-specific fields that decodeHeader
// left for later: the token (Initial/Retry), the version list (Version
// Negotiation), and the Length field (anything with a packet number).
// It does not touch the protected packet number or payload; that happens in
// packetNumberSpace.decryptPacket once header protection is removed.
func (p *packet) decodeBody(b []byte) (int, error) {
	off := p.headerLen
	switch p.typ {
	case packetTypeVersionNegotiation:
		for off+4 <= len(b) {
			v := uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])
			p.supportedVersions = append(p.supportedVersions, v)
			off += 4
		}
		return off - p.headerLen, nil
	case packetTypeRetry:
		// Everything remaining except the final 16-byte integrity tag is the
		// retry token.
		if len(b)-off < 16 {
			return 0, newError(FrameEncodingError, "retry too short")
		}
		p.token = append([]byte(nil), b[off:len(b)-16]...)
		return len(b) - off, nil
	case packetTypeInitial:
		var tokenLen uint64
		n := getVarint(b[off:], &tokenLen)
		if n == 0 {
			return 0, newError(FrameEncodingError, "token length")
		}
		off += n
		if uint64(len(b)-off) < tokenLen {
			return 0, newError(FrameEncodingError, "token truncated")
		}
		p.token = append([]byte(nil), b[off:off+int(tokenLen)]...)
		off += int(tokenLen)
		fallthrough
	case packetTypeHandshake, packetTypeZeroRTT:
		var length uint64
		n := getVarint(b[off:], &length)
		if n == 0 {
			return 0, newError(FrameEncodingError, "packet length")
		}
		off += n
		p.payloadLen = int(length)
		p.headerLen = off
		return off - p.headerLen, nil
	default:
		return 0, nil
	}
}

// packetNumberSpace holds per-space encryption keys, the received packet
// number map used to build ACKs, and the CRYPTO stream carrying that
// space's portion of the handshake. Mirrors spec.md's packet-number-space
// collaborator.
type packetNumberSpace struct {
	opener aeadOpener
	sealer aeadSealer

	nextPN  uint64
	recvMap pnMap

	cryptoStream cryptoStream

	ackElicited      bool
	firstPacketAcked bool
	largestAckedSent uint64
	dropped          bool
}

func (sp *packetNumberSpace) init() {
	*sp = packetNumberSpace{}
	sp.cryptoStream.init()
}

func (sp *packetNumberSpace) reset() {
	opener, sealer := sp.opener, sp.sealer
	sp.init()
	sp.opener, sp.sealer = opener, sealer
}

func (sp *packetNumberSpace) canDecrypt() bool {
	return !sp.dropped && sp.opener != nil
}

func (sp *packetNumberSpace) canEncrypt() bool {
	return !sp.dropped && sp.sealer != nil
}

func (sp *packetNumberSpace) isPacketReceived(pn uint64) bool {
	return sp.recvMap.isPacketReceived(pn)
}

func (sp *packetNumberSpace) onPacketReceived(pn uint64, now time.Time) {
	sp.recvMap.push(pn, now)
}

// ready reports whether this space has anything worth forming a packet for:
// a pending ACK or buffered CRYPTO bytes, and keys to encrypt them with.
func (sp *packetNumberSpace) ready() bool {
	if !sp.canEncrypt() {
		return false
	}
	return sp.ackElicited || sp.cryptoStream.hasPending()
}

func (sp *packetNumberSpace) drop() {
	sp.dropped = true
	sp.opener = nil
	sp.sealer = nil
}

// decryptPacket removes header protection and AEAD-decrypts p's payload in
// place within b, returning the plaintext frame payload and the number of
// bytes of b (header + payload + tag) this packet occupied.
func (sp *packetNumberSpace) decryptPacket(b []byte, p *packet) ([]byte, int, error) {
	if sp.opener == nil {
		return nil, 0, newError(InternalError, "no read key for space")
	}
	end := p.headerLen + p.payloadLen
	if p.payloadLen == 0 {
		end = len(b) // short header packets do not carry an explicit length
	}
	if end > len(b) {
		return nil, 0, newError(FrameEncodingError, "packet length exceeds datagram")
	}
	pn, pnLen, err := sp.opener.unprotectHeader(b, p.headerLen, end)
	if err != nil {
		return nil, 0, err
	}
	p.packetNumber = decodePacketNumber(sp.largestLocalAcked(), pn, pnLen)
	plain, err := sp.opener.open(p.packetNumber, b[:p.headerLen+pnLen], b[p.headerLen+pnLen:end])
	if err != nil {
		return nil, 0, wrapError(ProtocolViolation, err, "aead open")
	}
	return plain, end, nil
}

func (sp *packetNumberSpace) largestLocalAcked() uint64 {
	return sp.recvMap.maxPnSeen()
}

// encryptPacket AEAD-seals p's already-encoded plaintext frames in place
// within b (which must hold exactly the header, frame bytes, and room for
// the AEAD tag, as encode and sendFrames left it) and applies header
// protection over the packet number.
func (sp *packetNumberSpace) encryptPacket(b []byte, p *packet) error {
	if sp.sealer == nil {
		return newError(InternalError, "no write key for space")
	}
	pnOffset := p.headerLen - p.packetNumberLen
	sealed := sp.sealer.seal(p.packetNumber, b[:p.headerLen], b[p.headerLen:len(b)-sp.sealer.overhead()])
	copy(b[p.headerLen:], sealed)
	return sp.sealer.protectHeader(b, pnOffset, p.packetNumberLen)
}

// decodePacketNumber reverses the truncation applied to a packet number for
// the wire (RFC 9000 Section 17.1 / Appendix A).
func decodePacketNumber(largestPN, truncated uint64, pnLen int) uint64 {
	pnBits := uint(pnLen * 8)
	expected := largestPN + 1
	win := uint64(1) << pnBits
	hwin := win / 2
	candidate := (expected &^ (win - 1)) | truncated
	switch {
	case candidate <= expected-hwin && candidate < (uint64(1)<<62)-win:
		return candidate + win
	case candidate > expected+hwin && candidate >= win:
		return candidate - win
	default:
		return candidate
	}
}

// outgoingPacket accumulates the frames chosen for one packet until they are
// encoded together into the datagram, and records enough about each for the
// recovery collaborator to act when the packet is later acked or deemed
// lost.
type outgoingPacket struct {
	packetNumber uint64
	sentTime     time.Time
	size         uint64
	frames       []frame
	ackEliciting bool
}

func newOutgoingPacket(pn uint64, now time.Time) *outgoingPacket {
	return &outgoingPacket{packetNumber: pn, sentTime: now}
}

func (op *outgoingPacket) String() string {
	return sprint("pn=", op.packetNumber, " frames=", len(op.frames), " size=", op.size)
}

// frameTypeOf recovers a frame's base type byte from its concrete type, the
// reverse of frameOps' dispatch, so addFrame can tell whether it just made
// the packet ack-eliciting without the caller repeating that classification.
func frameTypeOf(f frame) uint64 {
	switch f.(type) {
	case *paddingFrame:
		return frameTypePadding
	case *pingFrame:
		return frameTypePing
	case *ackFrame:
		return frameTypeAck
	case *resetStreamFrame:
		return frameTypeResetStream
	case *stopSendingFrame:
		return frameTypeStopSending
	case *cryptoFrame:
		return frameTypeCrypto
	case *newTokenFrame:
		return frameTypeNewToken
	case *streamFrame:
		return frameTypeStream
	case *maxDataFrame:
		return frameTypeMaxData
	case *maxStreamDataFrame:
		return frameTypeMaxStreamData
	case *maxStreamsFrame:
		return frameTypeMaxStreamsBidi
	case *dataBlockedFrame:
		return frameTypeDataBlocked
	case *streamDataBlockedFrame:
		return frameTypeStreamDataBlocked
	case *streamsBlockedFrame:
		return frameTypeStreamsBlockedBidi
	case *newConnectionIDFrame:
		return frameTypeNewConnectionID
	case *retireConnectionIDFrame:
		return frameTypeRetireConnectionID
	case *pathChallengeFrame:
		return frameTypePathChallenge
	case *pathResponseFrame:
		return frameTypePathResponse
	case *connectionCloseFrame:
		return frameTypeConnectionClose
	case *handshakeDoneFrame:
		return frameTypeHanshakeDone
	default:
		return frameTypeBaseMax + 1
	}
}

// selectPacketNumberLen picks how many bytes the current packet number needs
// on the wire and records it in packetNumberLen, RFC 9000 Section 17.1.
func (p *packet) selectPacketNumberLen() {
	switch {
	case p.packetNumber < 1<<8:
		p.packetNumberLen = 1
	case p.packetNumber < 1<<16:
		p.packetNumberLen = 2
	case p.packetNumber < 1<<24:
		p.packetNumberLen = 3
	default:
		p.packetNumberLen = 4
	}
}

// encodedLen returns the number of header bytes encode would produce for the
// current field values, letting send reserve room for the header before the
// frames that fill payloadLen are chosen.
func (p *packet) encodedLen() int {
	p.selectPacketNumberLen()
	if p.typ == packetTypeShort {
		return 1 + len(p.header.dcid) + p.packetNumberLen
	}
	n := 1 + 4 + 1 + len(p.header.dcid) + 1 + len(p.header.scid)
	if p.typ == packetTypeInitial {
		n += varintLen(uint64(len(p.token))) + len(p.token)
	}
	n += varintLen(uint64(p.payloadLen+p.packetNumberLen)) + p.packetNumberLen
	return n
}

// encode writes p's long or short header into b and returns the offset
// where the plaintext frame payload begins; payloadLen must already hold
// the final frames-plus-AEAD-tag length the Length field advertises.
func (p *packet) encode(b []byte) (int, error) {
	p.selectPacketNumberLen()
	if len(b) < p.encodedLen() {
		return 0, errShortBuffer
	}
	off := 0
	switch p.typ {
	case packetTypeShort:
		b[off] = 0x40 | byte(p.packetNumberLen-1)
		off++
		off += copy(b[off:], p.header.dcid)
	default:
		first := byte(0xc0)
		switch p.typ {
		case packetTypeInitial:
			first |= 0x00 << 4
		case packetTypeZeroRTT:
			first |= 0x01 << 4
		case packetTypeHandshake:
			first |= 0x02 << 4
		case packetTypeRetry:
			first |= 0x03 << 4
		}
		first |= byte(p.packetNumberLen - 1)
		b[off] = first
		off++
		b[off] = byte(p.version >> 24)
		b[off+1] = byte(p.version >> 16)
		b[off+2] = byte(p.version >> 8)
		b[off+3] = byte(p.version)
		off += 4
		b[off] = byte(len(p.header.dcid))
		off++
		off += copy(b[off:], p.header.dcid)
		b[off] = byte(len(p.header.scid))
		off++
		off += copy(b[off:], p.header.scid)
		if p.typ == packetTypeInitial {
			off += putVarint(b[off:], uint64(len(p.token)))
			off += copy(b[off:], p.token)
		}
		off += putVarint(b[off:], uint64(p.payloadLen+p.packetNumberLen))
	}
	off += encodePacketNumber(b[off:], p.packetNumber, p.packetNumberLen)
	p.headerLen = off
	return off, nil
}

// encodePacketNumber writes pn's low pnLen bytes to b in network order.
func encodePacketNumber(b []byte, pn uint64, pnLen int) int {
	for i := 0; i < pnLen; i++ {
		b[i] = byte(pn >> uint(8*(pnLen-1-i)))
	}
	return pnLen
}

func (op *outgoingPacket) addFrame(f frame) {
	op.frames = append(op.frames, f)
	if isFrameAckEliciting(frameTypeOf(f)) {
		op.ackEliciting = true
	}
}

// encodeFrames serializes every accumulated frame back-to-back into b,
// returning the total length. Frames are encoded together, rather than
// individually through frameCreate, so that PADDING added to reach
// MinInitialPacketSize only needs one final length computation.
func encodeFrames(b []byte, frames []frame) (int, error) {
	p := 0
	for _, f := range frames {
		n, err := f.encode(b[p:])
		if err != nil {
			return 0, err
		}
		p += n
	}
	return p, nil
}
