package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Encode serialises v with msgpack and compresses it into an lz4 frame.
// Factor tables are mostly float32 columns and compress well.
func Encode(v interface{}) ([]byte, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode decompresses an lz4 frame and unmarshals the msgpack payload into v.
func Decode(blob []byte, v interface{}) error {
	zr := lz4.NewReader(bytes.NewReader(blob))
	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("lz4 decompress: %w", err)
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}
