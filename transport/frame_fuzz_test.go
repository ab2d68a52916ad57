package transport

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

// TestFrameRoundTripFuzz runs many independent encode/decode round trips
// concurrently across several frame types, each worker driven by its own
// deterministic generator seeded with the worker's index, so every run
// exercises the same frames.
func TestFrameRoundTripFuzz(t *testing.T) {
	const workers = 8
	const itersPerWorker = 500

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		seed := int64(w)
		g.Go(func() error {
			r := rand.New(rand.NewSource(seed))
			buf := make([]byte, 2048)
			for i := 0; i < itersPerWorker; i++ {
				if err := fuzzOneFrame(r, buf); err != nil {
					return err
				}
			}
			return nil
		})
	}
	assert.NoError(t, g.Wait())
}

func fuzzOneFrame(r *rand.Rand, buf []byte) error {
	switch r.Intn(5) {
	case 0:
		return fuzzStreamFrame(r, buf)
	case 1:
		return fuzzCryptoFrame(r, buf)
	case 2:
		return fuzzResetStreamFrame(r, buf)
	case 3:
		return fuzzMaxDataFrame(r, buf)
	default:
		return fuzzMaxStreamDataFrame(r, buf)
	}
}

func randBytes(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	r.Read(b)
	return b
}

func fuzzStreamFrame(r *rand.Rand, buf []byte) error {
	id := r.Uint64() % (1 << 62)
	offset := r.Uint64() % (1 << 30)
	fin := r.Intn(2) == 0
	data := randBytes(r, r.Intn(256))
	f := newStreamFrame(id, data, offset, fin)
	n, err := f.encode(buf)
	if err != nil {
		return err
	}
	var typeByte uint64
	tn := getVarint(buf, &typeByte)
	got := &streamFrame{}
	if _, err := got.decode(buf[tn:n], typeByte); err != nil {
		return err
	}
	if got.streamID != id || got.offset != offset || got.fin != fin || string(got.data) != string(data) {
		return newError(InternalError, "stream frame round trip mismatch")
	}
	return nil
}

func fuzzCryptoFrame(r *rand.Rand, buf []byte) error {
	offset := r.Uint64() % (1 << 30)
	data := randBytes(r, r.Intn(256))
	f := newCryptoFrame(data, offset)
	n, err := f.encode(buf)
	if err != nil {
		return err
	}
	var typeByte uint64
	tn := getVarint(buf, &typeByte)
	got := &cryptoFrame{}
	if _, err := got.decode(buf[tn:n]); err != nil {
		return err
	}
	if got.offset != offset || string(got.data) != string(data) {
		return newError(InternalError, "crypto frame round trip mismatch")
	}
	return nil
}

func fuzzResetStreamFrame(r *rand.Rand, buf []byte) error {
	id := r.Uint64() % (1 << 62)
	errCode := r.Uint64() % (1 << 62)
	finalSize := r.Uint64() % (1 << 62)
	f := newResetStreamFrame(id, errCode, finalSize)
	n, err := f.encode(buf)
	if err != nil {
		return err
	}
	var typeByte uint64
	tn := getVarint(buf, &typeByte)
	got := &resetStreamFrame{}
	if _, err := got.decode(buf[tn:n]); err != nil {
		return err
	}
	if got.streamID != id || got.errorCode != errCode || got.finalSize != finalSize {
		return newError(InternalError, "reset_stream frame round trip mismatch")
	}
	return nil
}

func fuzzMaxDataFrame(r *rand.Rand, buf []byte) error {
	max := r.Uint64() % (1 << 62)
	f := newMaxDataFrame(max)
	n, err := f.encode(buf)
	if err != nil {
		return err
	}
	var typeByte uint64
	tn := getVarint(buf, &typeByte)
	got := &maxDataFrame{}
	if _, err := got.decode(buf[tn:n]); err != nil {
		return err
	}
	if got.maximumData != max {
		return newError(InternalError, "max_data frame round trip mismatch")
	}
	return nil
}

func fuzzMaxStreamDataFrame(r *rand.Rand, buf []byte) error {
	id := r.Uint64() % (1 << 62)
	max := r.Uint64() % (1 << 62)
	f := newMaxStreamDataFrame(id, max)
	n, err := f.encode(buf)
	if err != nil {
		return err
	}
	var typeByte uint64
	tn := getVarint(buf, &typeByte)
	got := &maxStreamDataFrame{}
	if _, err := got.decode(buf[tn:n]); err != nil {
		return err
	}
	if got.streamID != id || got.maximumData != max {
		return newError(InternalError, "max_stream_data frame round trip mismatch")
	}
	return nil
}
