// Package compress implements the self-describing block codec used for
// archive columns and network row payloads.
//
// Block format (little endian):
//
//	[algorithm u8][rawLen u32][storedLen u32][stored bytes...]
//
// When compression does not pay off (stored > 90% of raw) the block is kept
// raw and tagged None, so Decode never has to guess.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm selects the block compressor.
type Algorithm uint8

const (
	// None stores the block as is.
	None Algorithm = 0
	// LZ4 is fast and suits hot network payloads.
	LZ4 Algorithm = 1
	// Zstd compresses better and suits cold checkpoints.
	Zstd Algorithm = 2
)

// HeaderSize is the size of the block header.
const HeaderSize = 9

// ErrCorrupt is returned for malformed blocks.
var ErrCorrupt = errors.New("compress: corrupt block")

func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// ParseAlgorithm maps a configuration name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("compress: unknown algorithm %q", name)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Encode compresses data with alg and prepends the block header.
func Encode(alg Algorithm, data []byte) ([]byte, error) {
	if len(data) > math.MaxUint32 {
		return nil, fmt.Errorf("compress: block of %d bytes too large", len(data))
	}

	var stored []byte
	switch alg {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		stored = buf[:n] // n == 0 means incompressible
	case Zstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, err
		}
		stored = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("compress: unknown algorithm %d", alg)
	}

	if len(stored) == 0 || float64(len(stored)) > float64(len(data))*0.9 {
		alg, stored = None, data
	}

	out := make([]byte, HeaderSize+len(stored))
	out[0] = byte(alg)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[5:], uint32(len(stored)))
	copy(out[HeaderSize:], stored)
	return out, nil
}

// Decode reverses Encode. It returns the raw bytes and the number of block
// bytes consumed.
func Decode(block []byte) ([]byte, int, error) {
	if len(block) < HeaderSize {
		return nil, 0, fmt.Errorf("%w: %d byte header", ErrCorrupt, len(block))
	}
	alg := Algorithm(block[0])
	rawLen := int(binary.LittleEndian.Uint32(block[1:]))
	storedLen := int(binary.LittleEndian.Uint32(block[5:]))
	if len(block)-HeaderSize < storedLen {
		return nil, 0, fmt.Errorf("%w: want %d stored bytes, have %d", ErrCorrupt, storedLen, len(block)-HeaderSize)
	}
	stored := block[HeaderSize : HeaderSize+storedLen]
	consumed := HeaderSize + storedLen

	switch alg {
	case None:
		if storedLen != rawLen {
			return nil, 0, fmt.Errorf("%w: raw block length %d != %d", ErrCorrupt, storedLen, rawLen)
		}
		out := make([]byte, rawLen)
		copy(out, stored)
		return out, consumed, nil
	case LZ4:
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if n != rawLen {
			return nil, 0, fmt.Errorf("%w: lz4 size %d != %d", ErrCorrupt, n, rawLen)
		}
		return out, consumed, nil
	case Zstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, 0, err
		}
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(stored, make([]byte, 0, rawLen))
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if len(out) != rawLen {
			return nil, 0, fmt.Errorf("%w: zstd size %d != %d", ErrCorrupt, len(out), rawLen)
		}
		return out, consumed, nil
	default:
		return nil, 0, fmt.Errorf("%w: unknown algorithm %d", ErrCorrupt, alg)
	}
}
