package transport

import (
	"crypto/rand"
	"io"
)

// randReader is what randomBytes reads when given a nil reader; that is the
// reset-token fallback used when no StatelessResetKey is set. Conn.rand does
// not read it: it reads Config.TLS.Rand when set and crypto/rand otherwise.
var randReader io.Reader = rand.Reader

func randomBytes(r io.Reader, b []byte) error {
	if r == nil {
		r = randReader
	}
	_, err := io.ReadFull(r, b)
	return err
}
