package protocol

import "time"

// Frame is one complete protocol unit: header fields plus the raw,
// uncompressed payload. Frames are immutable once constructed.
type Frame struct {
	Type        MessageType
	Flags       Flags
	Correlation uint64

	// Timestamp is the sender's wall clock in milliseconds since the epoch.
	Timestamp int64

	Payload []byte
}

// NewFrame builds a frame stamped with the current wall clock.
func NewFrame(t MessageType, correlation uint64, payload []byte) Frame {
	return Frame{
		Type:        t,
		Correlation: correlation,
		Timestamp:   time.Now().UnixMilli(),
		Payload:     payload,
	}
}

// Header is the decoded fixed header of a frame whose payload has not been
// consumed yet.
type Header struct {
	Version     byte
	Type        MessageType
	Flags       Flags
	Length      uint32
	Correlation uint64
	Timestamp   int64
}
