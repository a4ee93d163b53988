package protocol

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var (
	ErrCompressionFailed   = errors.New("protocol: compression failed")
	ErrDecompressionFailed = errors.New("protocol: decompression failed")
)

// lz4 writers and readers carry sizeable buffers; frames reuse them.
var (
	writers = sync.Pool{New: func() any { return lz4.NewWriter(nil) }}
	readers = sync.Pool{New: func() any { return lz4.NewReader(nil) }}
)

// Compress packs data into an lz4 frame at the fast level.
func Compress(data []byte) ([]byte, error) {
	zw := writers.Get().(*lz4.Writer)
	defer writers.Put(zw)

	out := bytes.NewBuffer(make([]byte, 0, len(data)/2+64))
	zw.Reset(out)
	if err := zw.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
		return nil, ErrCompressionFailed
	}
	if _, err := zw.Write(data); err != nil {
		return nil, ErrCompressionFailed
	}
	if err := zw.Close(); err != nil {
		return nil, ErrCompressionFailed
	}
	return out.Bytes(), nil
}

// Decompress unpacks an lz4 frame. Output beyond limit bytes is
// ErrFrameTooLarge.
func Decompress(data []byte, limit int) ([]byte, error) {
	zr := readers.Get().(*lz4.Reader)
	defer readers.Put(zr)
	zr.Reset(bytes.NewReader(data))

	out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, ErrDecompressionFailed
	}
	if len(out) > limit {
		return nil, ErrFrameTooLarge
	}
	return out, nil
}

func compressIfSmaller(payload []byte) ([]byte, bool) {
	if len(payload) == 0 {
		return payload, false
	}
	packed, err := Compress(payload)
	if err != nil || len(packed) >= len(payload) {
		return payload, false
	}
	return packed, true
}
