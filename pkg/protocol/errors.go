package protocol

import "errors"

var (
	ErrFrameLength   = errors.New("invalid frame length")
	ErrNotAck        = errors.New("frame is not an acknowledgment")
	ErrNotStatus     = errors.New("frame is not a status frame")
	ErrAddressLength = errors.New("hardware address must be 6 bytes")
)
