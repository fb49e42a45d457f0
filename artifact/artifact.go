// Package artifact persists trained index state as versioned, checksummed
// binary envelopes. Artifacts are opaque to callers: an index writes its
// parameters and payload, and loading verifies the algorithm, the parameter
// fingerprint and the payload checksum before any state is restored.
package artifact

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"hash/fnv"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// Magic identifies artifact files (ASCII "LNC1").
	Magic = 0x4C4E4331

	// Version is the current envelope format version.
	Version = 1

	// maxPayloadSize bounds decompressed payloads to catch corrupt length
	// fields before allocation.
	maxPayloadSize = 1 << 36
)

// Codec identifies the payload compression scheme.
type Codec byte

const (
	CodecNone Codec = iota
	CodecLZ4
	CodecZstd
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Unknown(%d)", byte(c))
	}
}

// Valid reports whether the codec is a known scheme.
func (c Codec) Valid() bool { return c <= CodecZstd }

// ErrFormatMismatch indicates an artifact that cannot be loaded: wrong
// magic, unsupported version, foreign algorithm, stale parameter
// fingerprint or failed checksum.
type ErrFormatMismatch struct {
	Field  string
	Detail string
}

func (e *ErrFormatMismatch) Error() string {
	return fmt.Sprintf("artifact format mismatch (%s): %s", e.Field, e.Detail)
}

// crc32c is the Castagnoli polynomial table.
var crc32c = crc32.MakeTable(crc32.Castagnoli)

// fingerprint64 hashes a parameter fingerprint string with FNV-64a.
func fingerprint64(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// header layout, little-endian:
//
//	magic       u32
//	version     u16
//	codec       u8
//	algoLen     u8
//	algo        algoLen bytes
//	fingerprint u64
//	payloadLen  u64   (compressed)
//	crc32c      u32   (of compressed payload)
//	payload     payloadLen bytes

// Write encodes a payload into an envelope. The algorithm names the
// producing index family; fingerprint captures the structural parameters
// that must match on load.
func Write(w io.Writer, algorithm, fingerprint string, codec Codec, payload []byte) error {
	if len(algorithm) == 0 || len(algorithm) > 255 {
		return &ErrFormatMismatch{Field: "algorithm", Detail: "name must be 1-255 bytes"}
	}
	if !codec.Valid() {
		return &ErrFormatMismatch{Field: "codec", Detail: fmt.Sprintf("unknown codec %d", byte(codec))}
	}

	compressed, err := compress(codec, payload)
	if err != nil {
		return err
	}

	var hdr bytes.Buffer
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(Magic))
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(Version))
	hdr.WriteByte(byte(codec))
	hdr.WriteByte(byte(len(algorithm)))
	hdr.WriteString(algorithm)
	_ = binary.Write(&hdr, binary.LittleEndian, fingerprint64(fingerprint))
	_ = binary.Write(&hdr, binary.LittleEndian, uint64(len(compressed)))
	_ = binary.Write(&hdr, binary.LittleEndian, crc32.Checksum(compressed, crc32c))

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return fmt.Errorf("artifact: write header: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return fmt.Errorf("artifact: write payload: %w", err)
	}
	return nil
}

// Read decodes an envelope and returns the decompressed payload. The caller
// states the algorithm and fingerprint it expects; a mismatch on either is
// rejected before the payload is touched.
func Read(r io.Reader, algorithm, fingerprint string) ([]byte, error) {
	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, &ErrFormatMismatch{Field: "magic", Detail: "truncated header"}
	}
	if magic != Magic {
		return nil, &ErrFormatMismatch{Field: "magic", Detail: fmt.Sprintf("got 0x%08X", magic)}
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, &ErrFormatMismatch{Field: "version", Detail: "truncated header"}
	}
	if version != Version {
		return nil, &ErrFormatMismatch{Field: "version", Detail: fmt.Sprintf("unsupported version %d", version)}
	}

	var meta [2]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return nil, &ErrFormatMismatch{Field: "codec", Detail: "truncated header"}
	}
	codec := Codec(meta[0])
	if !codec.Valid() {
		return nil, &ErrFormatMismatch{Field: "codec", Detail: fmt.Sprintf("unknown codec %d", meta[0])}
	}

	algo := make([]byte, meta[1])
	if _, err := io.ReadFull(r, algo); err != nil {
		return nil, &ErrFormatMismatch{Field: "algorithm", Detail: "truncated header"}
	}
	if string(algo) != algorithm {
		return nil, &ErrFormatMismatch{Field: "algorithm", Detail: fmt.Sprintf("artifact holds %q, expected %q", algo, algorithm)}
	}

	var fp, payloadLen uint64
	var sum uint32
	if err := binary.Read(r, binary.LittleEndian, &fp); err != nil {
		return nil, &ErrFormatMismatch{Field: "fingerprint", Detail: "truncated header"}
	}
	if fp != fingerprint64(fingerprint) {
		return nil, &ErrFormatMismatch{Field: "fingerprint", Detail: "parameters differ from the artifact's"}
	}
	if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
		return nil, &ErrFormatMismatch{Field: "payload", Detail: "truncated header"}
	}
	if payloadLen > maxPayloadSize {
		return nil, &ErrFormatMismatch{Field: "payload", Detail: fmt.Sprintf("implausible payload length %d", payloadLen)}
	}
	if err := binary.Read(r, binary.LittleEndian, &sum); err != nil {
		return nil, &ErrFormatMismatch{Field: "checksum", Detail: "truncated header"}
	}

	compressed := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, &ErrFormatMismatch{Field: "payload", Detail: "truncated payload"}
	}
	if crc32.Checksum(compressed, crc32c) != sum {
		return nil, &ErrFormatMismatch{Field: "checksum", Detail: "payload checksum failed"}
	}

	return decompress(codec, compressed)
}

func compress(codec Codec, payload []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return payload, nil
	case CodecLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, fmt.Errorf("artifact: lz4 compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("artifact: lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	case CodecZstd:
		zw, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("artifact: zstd compress: %w", err)
		}
		defer zw.Close()
		return zw.EncodeAll(payload, nil), nil
	default:
		return nil, &ErrFormatMismatch{Field: "codec", Detail: fmt.Sprintf("unknown codec %d", byte(codec))}
	}
}

func decompress(codec Codec, compressed []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return compressed, nil
	case CodecLZ4:
		zr := lz4.NewReader(bytes.NewReader(compressed))
		out, err := io.ReadAll(io.LimitReader(zr, maxPayloadSize))
		if err != nil {
			return nil, &ErrFormatMismatch{Field: "payload", Detail: fmt.Sprintf("lz4 decompress: %v", err)}
		}
		return out, nil
	case CodecZstd:
		zr, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("artifact: zstd reader: %w", err)
		}
		defer zr.Close()
		out, err := zr.DecodeAll(compressed, nil)
		if err != nil {
			return nil, &ErrFormatMismatch{Field: "payload", Detail: fmt.Sprintf("zstd decompress: %v", err)}
		}
		return out, nil
	default:
		return nil, &ErrFormatMismatch{Field: "codec", Detail: fmt.Sprintf("unknown codec %d", byte(codec))}
	}
}
