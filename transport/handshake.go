package transport

import (
	"context"
	"crypto/tls"
)

// tlsHandshake drives the TLS 1.3 handshake that authenticates a connection
// and exchanges transport parameters (RFC 9001), using the standard
// library's QUIC integration (crypto/tls.QUICConn) instead of a hand-rolled
// record layer. Every read/write secret it exports becomes a quicAEAD for
// the matching packet number space; this package assumes the mandatory
// QUIC v1 cipher suite, TLS_AES_128_GCM_SHA256, which is what newQUICAEAD
// already builds.
type tlsHandshake struct {
	conn      *Conn
	tlsConfig *tls.Config
	quicConn  *tls.QUICConn

	localParams   *Parameters
	peerParams    Parameters
	gotPeerParams bool
	complete      bool
}

func (h *tlsHandshake) init(conn *Conn, tlsConfig *tls.Config) {
	h.conn = conn
	h.tlsConfig = tlsConfig
}

func (h *tlsHandshake) reset() {
	conn, tlsConfig := h.conn, h.tlsConfig
	*h = tlsHandshake{conn: conn, tlsConfig: tlsConfig}
}

// setTransportParams starts the underlying tls.QUICConn the first time it
// is called and (re)installs the local transport parameters it will offer.
func (h *tlsHandshake) setTransportParams(p *Parameters) {
	h.localParams = p
	if h.quicConn == nil {
		cfg := &tls.QUICConfig{TLSConfig: h.tlsConfig}
		if h.conn.isClient {
			h.quicConn = tls.QUICClient(cfg)
		} else {
			h.quicConn = tls.QUICServer(cfg)
		}
		h.quicConn.Start(context.Background())
	}
	h.quicConn.SetTransportParameters(p.marshal())
}

// doHandshake feeds any freshly reassembled CRYPTO bytes into the TLS state
// machine and drains every event it produces: new keys are installed
// directly on the owning packetNumberSpace, and data the handshake wants to
// send is appended to that space's crypto stream for sendFrameCrypto to
// pick up later.
func (h *tlsHandshake) doHandshake() error {
	if h.quicConn == nil {
		return nil
	}
	for space := packetSpaceInitial; space < packetSpaceCount; space++ {
		pnSpace := &h.conn.packetNumberSpaces[space]
		level := quicLevelFromSpace(space)
		for {
			data, _ := pnSpace.cryptoStream.popRecv(4096)
			if len(data) == 0 {
				break
			}
			if err := h.quicConn.HandleData(level, data); err != nil {
				return wrapError(ProtocolViolation, err, "tls handshake data")
			}
		}
	}
	for {
		ev := h.quicConn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return nil
		case tls.QUICSetReadSecret:
			h.conn.packetNumberSpaces[spaceFromQUICLevel(ev.Level)].opener = newQUICAEAD(ev.Data)
		case tls.QUICSetWriteSecret:
			h.conn.packetNumberSpaces[spaceFromQUICLevel(ev.Level)].sealer = newQUICAEAD(ev.Data)
		case tls.QUICWriteData:
			h.conn.packetNumberSpaces[spaceFromQUICLevel(ev.Level)].cryptoStream.write(ev.Data)
		case tls.QUICTransportParameters:
			var p Parameters
			if err := p.unmarshal(ev.Data); err != nil {
				return err
			}
			h.peerParams = p
			h.gotPeerParams = true
		case tls.QUICHandshakeDone:
			h.complete = true
		}
	}
}

func (h *tlsHandshake) HandshakeComplete() bool {
	return h.complete && h.gotPeerParams
}

func (h *tlsHandshake) peerTransportParams() *Parameters {
	if !h.gotPeerParams {
		return nil
	}
	return &h.peerParams
}

// writeSpace picks the most advanced packet number space this connection
// can currently encrypt into, used when sending a probe or a final
// CONNECTION_CLOSE rather than the space selected by ordinary traffic.
func (h *tlsHandshake) writeSpace() packetSpace {
	for space := packetSpaceApplication; ; space-- {
		if h.conn.packetNumberSpaces[space].canEncrypt() {
			return space
		}
		if space == packetSpaceInitial {
			return packetSpaceCount
		}
	}
}

func quicLevelFromSpace(space packetSpace) tls.QUICEncryptionLevel {
	switch space {
	case packetSpaceInitial:
		return tls.QUICEncryptionLevelInitial
	case packetSpaceHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}

func spaceFromQUICLevel(level tls.QUICEncryptionLevel) packetSpace {
	switch level {
	case tls.QUICEncryptionLevelInitial:
		return packetSpaceInitial
	case tls.QUICEncryptionLevelHandshake:
		return packetSpaceHandshake
	default:
		return packetSpaceApplication
	}
}
