package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
)

// quicInitialSaltV1 is the Initial salt for QUIC version 1, RFC 9001 Section 5.2.
var quicInitialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0x80, 0xca, 0xdc,
	0xcb, 0xb7, 0xf0, 0xa0,
}

// hkdfExpandLabel implements the TLS 1.3 HKDF-Expand-Label construction
// (RFC 8446 Section 7.1) used throughout RFC 9001 to turn one secret into
// several independent ones ("quic key", "quic iv", "quic hp", and the
// "client in" / "server in" Initial secrets).
func hkdfExpandLabel(secret []byte, label string, context []byte, length int) []byte {
	full := "tls13 " + label
	hkdfLabel := make([]byte, 0, 2+1+len(full)+1+len(context))
	hkdfLabel = binary.BigEndian.AppendUint16(hkdfLabel, uint16(length))
	hkdfLabel = append(hkdfLabel, byte(len(full)))
	hkdfLabel = append(hkdfLabel, full...)
	hkdfLabel = append(hkdfLabel, byte(len(context)))
	hkdfLabel = append(hkdfLabel, context...)
	out := make([]byte, length)
	r := hkdf.Expand(sha256.New, secret, hkdfLabel)
	if _, err := io.ReadFull(r, out); err != nil {
		panic(err) // hkdf.Expand only fails if length exceeds 255*hash size
	}
	return out
}

// aeadSealer protects one packet's payload and header.
type aeadSealer interface {
	seal(pn uint64, header, plaintext []byte) []byte
	protectHeader(b []byte, pnOffset, pnLen int) error
	overhead() int
}

// aeadOpener removes header protection and decrypts one packet's payload.
type aeadOpener interface {
	unprotectHeader(b []byte, pnOffset, end int) (pnTruncated uint64, pnLen int, err error)
	open(pn uint64, header, ciphertext []byte) ([]byte, error)
}

// quicAEAD is one direction's packet protection keys, RFC 9001 Section 5.
// It implements both aeadSealer and aeadOpener; each packetNumberSpace uses
// one instance (the peer's keys) for reading and a different instance (this
// endpoint's own keys) for writing.
type quicAEAD struct {
	aead cipher.AEAD
	iv   []byte
	hp   cipher.Block
}

func newQUICAEAD(secret []byte) *quicAEAD {
	key := hkdfExpandLabel(secret, "quic key", nil, 16)
	iv := hkdfExpandLabel(secret, "quic iv", nil, 12)
	hpKey := hkdfExpandLabel(secret, "quic hp", nil, 16)
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		panic(err)
	}
	hpBlock, err := aes.NewCipher(hpKey)
	if err != nil {
		panic(err)
	}
	return &quicAEAD{aead: gcm, iv: iv, hp: hpBlock}
}

func (a *quicAEAD) nonce(pn uint64) []byte {
	nonce := append([]byte(nil), a.iv...)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(pn >> (8 * i))
	}
	return nonce
}

func (a *quicAEAD) seal(pn uint64, header, plaintext []byte) []byte {
	return a.aead.Seal(nil, a.nonce(pn), plaintext, header)
}

func (a *quicAEAD) open(pn uint64, header, ciphertext []byte) ([]byte, error) {
	return a.aead.Open(nil, a.nonce(pn), ciphertext, header)
}

func (a *quicAEAD) overhead() int {
	return a.aead.Overhead()
}

// mask computes the 5-byte header protection mask of RFC 9001 Section 5.4.1
// for a 16-byte ciphertext sample. Only the first 5 bytes are meaningful for
// AES-based header protection but 16 are returned to match Encrypt's block
// size.
func (a *quicAEAD) mask(sample []byte) []byte {
	out := make([]byte, aes.BlockSize)
	a.hp.Encrypt(out, sample)
	return out
}

func (a *quicAEAD) protectHeader(b []byte, pnOffset, pnLen int) error {
	sampleOff := pnOffset + 4
	if sampleOff+16 > len(b) {
		return errShortBuffer
	}
	mask := a.mask(b[sampleOff : sampleOff+16])
	if b[0]&0x80 != 0 {
		b[0] ^= mask[0] & 0x0f
	} else {
		b[0] ^= mask[0] & 0x1f
	}
	for i := 0; i < pnLen; i++ {
		b[pnOffset+i] ^= mask[1+i]
	}
	return nil
}

func (a *quicAEAD) unprotectHeader(b []byte, pnOffset, end int) (uint64, int, error) {
	sampleOff := pnOffset + 4
	if sampleOff+16 > end {
		return 0, 0, errShortBuffer
	}
	mask := a.mask(b[sampleOff : sampleOff+16])
	if b[0]&0x80 != 0 {
		b[0] ^= mask[0] & 0x0f
	} else {
		b[0] ^= mask[0] & 0x1f
	}
	pnLen := int(b[0]&0x03) + 1
	var pn uint64
	for i := 0; i < pnLen; i++ {
		b[pnOffset+i] ^= mask[1+i]
		pn = pn<<8 | uint64(b[pnOffset+i])
	}
	return pn, pnLen, nil
}

// initialAEAD derives the Initial packet protection keys from a connection
// ID, RFC 9001 Section 5.2. Both client and server derive the same pair;
// which one is used for reading vs. writing depends on which end of the
// connection this Conn is.
type initialAEAD struct {
	client *quicAEAD
	server *quicAEAD
}

func (a *initialAEAD) init(cid []byte) {
	initialSecret := hkdf.Extract(sha256.New, cid, quicInitialSaltV1)
	a.client = newQUICAEAD(hkdfExpandLabel(initialSecret, "client in", nil, sha256.Size))
	a.server = newQUICAEAD(hkdfExpandLabel(initialSecret, "server in", nil, sha256.Size))
}

// Retry Integrity Tag key and nonce, fixed per RFC 9001 Section 5.8.
var (
	retryIntegrityKey = []byte{
		0xbe, 0x0c, 0x69, 0x0b, 0x9f, 0x66, 0x57, 0x5a,
		0x1d, 0x76, 0x6b, 0x54, 0xe3, 0x68, 0xc8, 0x4e,
	}
	retryIntegrityNonce = []byte{
		0x46, 0x15, 0x99, 0xd3, 0x5d, 0x63, 0x2b, 0xf2,
		0x23, 0x98, 0x25, 0xbb,
	}
)

// verifyRetryIntegrity checks the 16-byte tag appended to a Retry packet
// against the pseudo-packet built from the client's original destination
// connection id, per RFC 9001 Section 5.8.
func verifyRetryIntegrity(b []byte, odcid []byte) bool {
	if len(b) < 16 {
		return false
	}
	tag := b[len(b)-16:]
	pseudo := make([]byte, 0, 1+len(odcid)+len(b)-16)
	pseudo = append(pseudo, byte(len(odcid)))
	pseudo = append(pseudo, odcid...)
	pseudo = append(pseudo, b[:len(b)-16]...)
	block, err := aes.NewCipher(retryIntegrityKey)
	if err != nil {
		return false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return false
	}
	expected := gcm.Seal(nil, retryIntegrityNonce, nil, pseudo)
	return hmac.Equal(expected, tag)
}
