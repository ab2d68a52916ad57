package transport

import (
	"crypto/tls"
	"time"
)

// Transport parameter IDs, RFC 9000 Section 18.2.
const (
	paramOriginalDestinationCID         = 0x00
	paramMaxIdleTimeout                 = 0x01
	paramStatelessResetToken            = 0x02
	paramMaxUDPPayloadSize              = 0x03
	paramInitialMaxData                 = 0x04
	paramInitialMaxStreamDataBidiLocal  = 0x05
	paramInitialMaxStreamDataBidiRemote = 0x06
	paramInitialMaxStreamDataUni        = 0x07
	paramInitialMaxStreamsBidi          = 0x08
	paramInitialMaxStreamsUni           = 0x09
	paramAckDelayExponent               = 0x0a
	paramMaxAckDelay                    = 0x0b
	paramDisableActiveMigration         = 0x0c
	paramInitialSourceCID               = 0x0f
	paramRetrySourceCID                 = 0x10
)

// Parameters holds the subset of RFC 9000 Section 18.2 transport parameters
// this package's collaborators (Conn, flowControl, streamMap) need. It is
// exchanged over TLS as an extension during the handshake, carried as the
// Data of a tls.QUICTransportParameters event.
type Parameters struct {
	OriginalDestinationCID []byte
	InitialSourceCID       []byte
	RetrySourceCID         []byte
	StatelessResetToken    []byte

	MaxIdleTimeout   time.Duration
	MaxUDPPayloadSize uint64

	InitialMaxData                 uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi          uint64
	InitialMaxStreamsUni           uint64

	AckDelayExponent uint64
	MaxAckDelay      time.Duration

	DisableActiveMigration bool
}

// Config configures a new Conn, mirroring the teacher's Config but adding
// the TLS and stateless-reset-key fields a real handshake needs.
type Config struct {
	Version uint32
	TLS     *tls.Config
	Params  Parameters

	// StatelessResetKey, when set, makes reset-token generation
	// deterministic per connection ID (RFC 9000 Section 10.3) instead of
	// drawing fresh random bytes for every connection.
	StatelessResetKey []byte
}

func defaultAckDelayExponent() uint64 { return 3 }

// marshal encodes p as the transport_parameters TLS extension body, RFC
// 9000 Section 18.1: a flat sequence of (varint id, varint length, value)
// entries in any order.
func (p *Parameters) marshal() []byte {
	var b []byte
	putBytes := func(id uint64, v []byte) {
		if len(v) == 0 {
			return
		}
		b = appendVarint(b, id)
		b = appendVarint(b, uint64(len(v)))
		b = append(b, v...)
	}
	putVarintParam := func(id uint64, v uint64) {
		b = appendVarint(b, id)
		b = appendVarint(b, uint64(varintLen(v)))
		b = appendVarint(b, v)
	}
	putBytes(paramOriginalDestinationCID, p.OriginalDestinationCID)
	putBytes(paramInitialSourceCID, p.InitialSourceCID)
	putBytes(paramRetrySourceCID, p.RetrySourceCID)
	putBytes(paramStatelessResetToken, p.StatelessResetToken)
	if p.MaxIdleTimeout > 0 {
		putVarintParam(paramMaxIdleTimeout, uint64(p.MaxIdleTimeout/1e6))
	}
	if p.MaxUDPPayloadSize > 0 {
		putVarintParam(paramMaxUDPPayloadSize, p.MaxUDPPayloadSize)
	}
	putVarintParam(paramInitialMaxData, p.InitialMaxData)
	putVarintParam(paramInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	putVarintParam(paramInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	putVarintParam(paramInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	putVarintParam(paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	putVarintParam(paramInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	if p.AckDelayExponent != defaultAckDelayExponent() {
		putVarintParam(paramAckDelayExponent, p.AckDelayExponent)
	}
	if p.MaxAckDelay > 0 {
		putVarintParam(paramMaxAckDelay, uint64(p.MaxAckDelay/1e6))
	}
	if p.DisableActiveMigration {
		b = appendVarint(b, paramDisableActiveMigration)
		b = appendVarint(b, 0)
	}
	return b
}

// unmarshal decodes the peer's transport_parameters extension body into p,
// ignoring any parameter id it does not recognize (RFC 9000 Section 18.1
// requires unknown parameters to be ignored rather than rejected).
func (p *Parameters) unmarshal(b []byte) error {
	*p = Parameters{AckDelayExponent: defaultAckDelayExponent()}
	for len(b) > 0 {
		var id, length uint64
		n := getVarint(b, &id)
		if n == 0 {
			return newError(TransportParameterError, "truncated parameter id")
		}
		b = b[n:]
		n = getVarint(b, &length)
		if n == 0 {
			return newError(TransportParameterError, "truncated parameter length")
		}
		b = b[n:]
		if uint64(len(b)) < length {
			return newError(TransportParameterError, "truncated parameter value")
		}
		v := b[:length]
		b = b[length:]
		var val uint64
		if length > 0 && length <= 8 {
			getVarint(v, &val)
		}
		switch id {
		case paramOriginalDestinationCID:
			p.OriginalDestinationCID = append([]byte(nil), v...)
		case paramInitialSourceCID:
			p.InitialSourceCID = append([]byte(nil), v...)
		case paramRetrySourceCID:
			p.RetrySourceCID = append([]byte(nil), v...)
		case paramStatelessResetToken:
			p.StatelessResetToken = append([]byte(nil), v...)
		case paramMaxIdleTimeout:
			p.MaxIdleTimeout = time.Duration(val) * time.Millisecond
		case paramMaxUDPPayloadSize:
			p.MaxUDPPayloadSize = val
		case paramInitialMaxData:
			p.InitialMaxData = val
		case paramInitialMaxStreamDataBidiLocal:
			p.InitialMaxStreamDataBidiLocal = val
		case paramInitialMaxStreamDataBidiRemote:
			p.InitialMaxStreamDataBidiRemote = val
		case paramInitialMaxStreamDataUni:
			p.InitialMaxStreamDataUni = val
		case paramInitialMaxStreamsBidi:
			p.InitialMaxStreamsBidi = val
		case paramInitialMaxStreamsUni:
			p.InitialMaxStreamsUni = val
		case paramAckDelayExponent:
			p.AckDelayExponent = val
		case paramMaxAckDelay:
			p.MaxAckDelay = time.Duration(val) * time.Millisecond
		case paramDisableActiveMigration:
			p.DisableActiveMigration = true
		}
	}
	return nil
}
