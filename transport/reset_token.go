package transport

import (
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

const statelessResetTokenLen = 16

// statelessResetToken computes the token a server advertises for cid, RFC
// 9000 Section 10.3. With a StatelessResetKey configured the token is a
// deterministic function of cid, so a server that has lost its in-memory
// connection state (a restart, or a different instance behind a load
// balancer) can still produce the same token and let the peer recognize a
// stateless reset for a connection it issued. Without a key, each cid gets
// fresh random bytes instead, matching the RFC's fallback for endpoints
// that do not share reset state across restarts.
func statelessResetToken(key, cid []byte) ([]byte, error) {
	token := make([]byte, statelessResetTokenLen)
	if len(key) == 0 {
		if err := randomBytes(nil, token); err != nil {
			return nil, err
		}
		return token, nil
	}
	r := hkdf.New(func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	}, key, cid, []byte("quic stateless reset"))
	if _, err := io.ReadFull(r, token); err != nil {
		return nil, err
	}
	return token, nil
}
