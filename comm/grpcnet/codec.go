package grpcnet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/rowstore/internal/compress"
)

// envelope is the Deliver request: one transport message.
type envelope struct {
	Src     int32
	Tag     uint32
	Payload []byte
}

// ack is the empty Deliver response.
type ack struct{}

var errWireType = errors.New("grpcnet: unsupported message type")

// wireCodec frames envelopes as [src u32][tag u32][compressed block]. It
// replaces protobuf on the Deliver method.
type wireCodec struct {
	alg compress.Algorithm
}

const envelopeHeader = 8

func (c wireCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *envelope:
		block, err := compress.Encode(c.alg, m.Payload)
		if err != nil {
			return nil, err
		}
		out := make([]byte, envelopeHeader, envelopeHeader+len(block))
		binary.LittleEndian.PutUint32(out[0:], uint32(m.Src)) //nolint:gosec // rank fits
		binary.LittleEndian.PutUint32(out[4:], m.Tag)
		return append(out, block...), nil
	case *ack:
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("%w: %T", errWireType, v)
	}
}

func (c wireCodec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *envelope:
		if len(data) < envelopeHeader {
			return fmt.Errorf("grpcnet: short envelope of %d bytes", len(data))
		}
		payload, n, err := compress.Decode(data[envelopeHeader:])
		if err != nil {
			return err
		}
		if envelopeHeader+n != len(data) {
			return fmt.Errorf("grpcnet: %d trailing bytes after envelope", len(data)-envelopeHeader-n)
		}
		m.Src = int32(binary.LittleEndian.Uint32(data[0:])) //nolint:gosec // rank fits
		m.Tag = binary.LittleEndian.Uint32(data[4:])
		m.Payload = payload
		return nil
	case *ack:
		return nil
	default:
		return fmt.Errorf("%w: %T", errWireType, v)
	}
}

func (c wireCodec) Name() string {
	return "rowstore-envelope"
}
