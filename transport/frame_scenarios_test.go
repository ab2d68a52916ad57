package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioPingBuildAndParse exercises the trivial PING round trip: a
// one-byte frame that the parser consumes with zero payload bytes.
func TestScenarioPingBuildAndParse(t *testing.T) {
	buf, err := frameCreate(&Conn{}, frameTypePing, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, buf)

	var typ uint64
	tn := getVarint(buf, &typ)
	require.Equal(t, 1, tn)
	require.Equal(t, uint64(frameTypePing), typ)

	n, err := parsePingFrame(&Conn{}, buf[tn:], typ, packetSpaceApplication, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// TestScenarioAckZeroGapBuildAndParse builds an ACK over a single contiguous
// run of packet numbers 0..10, checks the exact wire encoding, then feeds it
// back through the parser and confirms the loss-recovery collaborator moves
// the matching sent packet from "in flight" to "acked" exactly once.
func TestScenarioAckZeroGapBuildAndParse(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var pn pnMap
	for i := uint64(0); i <= 10; i++ {
		pn.push(i, now)
	}
	f := newAckFrame(0, pn)
	assert.Equal(t, uint64(10), f.largestAck)
	assert.Equal(t, uint64(10), f.firstAckRange)
	assert.Empty(t, f.gaps)

	buf := make([]byte, f.encodedLen())
	n, err := f.encode(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x0a, 0x00, 0x00, 0x0a}, buf[:n])

	s := &Conn{peerParams: Parameters{AckDelayExponent: 3}}
	s.recovery.init(now)
	for i := range s.packetNumberSpaces {
		s.packetNumberSpaces[i].init()
	}
	s.recovery.sent[packetSpaceApplication] = []sentPacket{
		{pn: 10, sentTime: now.Add(-10 * time.Millisecond)},
	}

	var typ uint64
	tn := getVarint(buf, &typ)
	consumed, err := parseAckFrame(s, buf[tn:n], typ, packetSpaceApplication, now)
	require.NoError(t, err)
	assert.Equal(t, n-tn, consumed)
	assert.Empty(t, s.recovery.sent[packetSpaceApplication], "the acked packet must leave the in-flight set")
	assert.True(t, s.packetNumberSpaces[packetSpaceApplication].firstPacketAcked)
}

// TestScenarioStreamOffsetAndFin builds a STREAM frame that carries a
// nonzero offset and a FIN, with the whole payload fitting well within the
// budget, and checks that the send buffer's offset advances past the last
// byte.
func TestScenarioStreamOffsetAndFin(t *testing.T) {
	st := newStream(4, 0, 1<<20)
	st.send.offset = 100
	st.send.write([]byte("abc"), true)

	f := buildStreamFrame(st, 4, 4096)
	require.NotNil(t, f)

	buf := make([]byte, f.encodedLen())
	n, err := f.encode(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0f, 0x04, 0x40, 0x64, 0x03, 0x61, 0x62, 0x63}, buf[:n])
	assert.Equal(t, uint64(103), st.sendOffset())
}

// TestScenarioNewConnectionIDRetiresBelowThreshold checks that a
// NEW_CONNECTION_ID with no Retire Prior To queues no RETIRE_CONNECTION_ID,
// and one that raises the threshold queues a RETIRE_CONNECTION_ID for every
// sequence number it obsoletes.
func TestScenarioNewConnectionIDRetiresBelowThreshold(t *testing.T) {
	s := &Conn{}
	s.dcidSet.insert(0, []byte{0, 0, 0, 0}, make([]byte, 16)) // the handshake's original dcid occupies seq 0

	f1 := newNewConnectionIDFrame(1, 0, []byte{1, 2, 3, 4}, [16]byte{})
	buf1 := make([]byte, f1.encodedLen())
	n1, err := f1.encode(buf1)
	require.NoError(t, err)
	var typ uint64
	tn := getVarint(buf1, &typ)
	_, err = parseNewConnectionIDFrame(s, buf1[tn:n1], typ, packetSpaceApplication, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, s.pendingRetireConnectionID)

	f2 := newNewConnectionIDFrame(2, 2, []byte{5, 6, 7, 8}, [16]byte{})
	buf2 := make([]byte, f2.encodedLen())
	n2, err := f2.encode(buf2)
	require.NoError(t, err)
	tn = getVarint(buf2, &typ)
	_, err = parseNewConnectionIDFrame(s, buf2[tn:n2], typ, packetSpaceApplication, time.Time{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{0, 1}, s.pendingRetireConnectionID)
}

// TestScenarioPathChallengeQueuesMatchingResponse mirrors RFC 9000 Section
// 8.2.2: a PATH_CHALLENGE's 8 bytes of entropy must come back verbatim in
// the PATH_RESPONSE this endpoint queues.
func TestScenarioPathChallengeQueuesMatchingResponse(t *testing.T) {
	s := &Conn{}
	entropy := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}

	f := newPathChallengeFrame(entropy)
	buf := make([]byte, f.encodedLen())
	n, err := f.encode(buf)
	require.NoError(t, err)

	var typ uint64
	tn := getVarint(buf, &typ)
	_, err = parsePathChallengeFrame(s, buf[tn:n], typ, packetSpaceApplication, time.Time{})
	require.NoError(t, err)
	require.NotNil(t, s.pendingPathResponse)
	assert.Equal(t, entropy, *s.pendingPathResponse)

	resp := newPathResponseFrame(*s.pendingPathResponse)
	respBuf := make([]byte, resp.encodedLen())
	_, err = resp.encode(respBuf)
	require.NoError(t, err)
	assert.Equal(t, buf[tn:n], respBuf[tn:])
}

// TestScenarioAckRangeCountTooLarge rejects an ACK whose gap-block count
// exceeds the QUIC_PN_MAX_GABS bound without touching any connection state.
func TestScenarioAckRangeCountTooLarge(t *testing.T) {
	buf := []byte{
		0x0a, // largest = 10
		0x00, // ack delay = 0
		17,   // range count = 17, one past quicPnMaxGabs
		0x00, // first ack range
	}
	var f ackFrame
	_, err := f.decode(buf, frameTypeAck)
	require.Error(t, err)
	terr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, MalformedFrame, terr.Code)
}

// TestScenarioConnectionCloseRejectsOversizeReason exercises spec-mandated
// bounds on the reason phrase: a length past maxCloseReasonWireLen and a
// length that is not NUL-terminated must both be rejected before a reason
// phrase is stored on the frame.
func TestScenarioConnectionCloseRejectsOversizeReason(t *testing.T) {
	oversize := make([]byte, maxCloseReasonWireLen+1)
	buf := []byte{0x10, 0x00} // error code 0x10, frame type 0x00
	buf = appendVarint(buf, uint64(len(oversize)))
	buf = append(buf, oversize...)

	var f connectionCloseFrame
	_, err := f.decode(buf, frameTypeConnectionClose)
	require.Error(t, err)
	terr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, MalformedFrame, terr.Code)

	notTerminated := []byte{0x10, 0x00}
	notTerminated = appendVarint(notTerminated, 5)
	notTerminated = append(notTerminated, []byte("abcde")...)

	var f2 connectionCloseFrame
	_, err = f2.decode(notTerminated, frameTypeConnectionClose)
	require.Error(t, err)
	terr2, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, MalformedFrame, terr2.Code)
}

// TestScenarioConnectionCloseValidTransitionsToDraining checks that a
// well-formed CONNECTION_CLOSE moves the connection into the draining state.
func TestScenarioConnectionCloseValidTransitionsToDraining(t *testing.T) {
	s := &Conn{state: stateActive}

	f := newConnectionCloseFrame(0x122, 99, []byte("reason"), false)
	buf := make([]byte, f.encodedLen())
	n, err := f.encode(buf)
	require.NoError(t, err)

	var typ uint64
	tn := getVarint(buf, &typ)
	_, err = parseConnectionCloseFrame(s, buf[tn:n], typ, packetSpaceApplication, time.Now())
	require.NoError(t, err)
	assert.Equal(t, stateDraining, s.state)
}
