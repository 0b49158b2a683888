package types

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// MaxFrameSize caps a single framed record at 1 MiB
const MaxFrameSize = 1 << 20

var (
	ErrFrameTooShort = fmt.Errorf("frame shorter than length prefix")
	ErrFrameTooLarge = fmt.Errorf("frame exceeds %d bytes", MaxFrameSize)
	ErrFrameLength   = fmt.Errorf("frame length prefix does not match payload")
)

// EncodeFrame marshals v to JSON and prepends a 4-byte big-endian
// length prefix. All inbound topics carry records in this framing.
func EncodeFrame(v interface{}) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame payload: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	return frame, nil
}

// DecodeFrame validates the length prefix and unmarshals the payload
// into v. Any failure is a parse error to the intake.
func DecodeFrame(frame []byte, v interface{}) error {
	if len(frame) < 4 {
		return ErrFrameTooShort
	}
	n := binary.BigEndian.Uint32(frame[:4])
	if n > MaxFrameSize {
		return ErrFrameTooLarge
	}
	if int(n) != len(frame)-4 {
		return ErrFrameLength
	}
	if err := json.Unmarshal(frame[4:], v); err != nil {
		return fmt.Errorf("failed to unmarshal frame payload: %w", err)
	}
	return nil
}
