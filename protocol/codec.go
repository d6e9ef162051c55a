package protocol

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeOptions control how a frame is put on the wire.
type EncodeOptions struct {
	// Compress requests deflate compression of the payload. Compression is
	// only applied when the payload is large enough and the deflated form
	// is actually smaller; otherwise the frame goes out uncompressed with
	// the flag cleared.
	Compress bool
}

// EncodeFrame serialises a frame into a contiguous buffer of exactly
// HeaderSize + payload length bytes.
func EncodeFrame(f Frame, opts EncodeOptions) ([]byte, error) {
	payload := f.Payload
	flags := f.Flags &^ FlagCompressed

	if opts.Compress && len(payload) > compressionThreshold {
		deflated, err := deflate(payload)
		if err != nil {
			return nil, fmt.Errorf("Failed to compress payload: %w", err)
		}

		if len(deflated) < len(payload) {
			payload = deflated
			flags |= FlagCompressed
		}
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = ProtocolVersion
	buf[5] = byte(f.Type)
	binary.BigEndian.PutUint16(buf[6:8], uint16(flags))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))
	binary.BigEndian.PutUint64(buf[12:20], f.Correlation)
	binary.BigEndian.PutUint64(buf[20:28], uint64(f.Timestamp))
	// buf[28:32] is the reserved field and stays zero
	copy(buf[HeaderSize:], payload)

	return buf, nil
}

// DecodeHeader parses and validates the fixed header at the front of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}

	if binary.BigEndian.Uint32(b[0:4]) != Magic {
		return Header{}, ErrBadMagic
	}

	h := Header{
		Version:     b[4],
		Type:        MessageType(b[5]),
		Flags:       Flags(binary.BigEndian.Uint16(b[6:8])),
		Length:      binary.BigEndian.Uint32(b[8:12]),
		Correlation: binary.BigEndian.Uint64(b[12:20]),
		Timestamp:   int64(binary.BigEndian.Uint64(b[20:28])),
	}

	if h.Version != ProtocolVersion {
		return Header{}, fmt.Errorf("Failed to decode version %d: %w", h.Version, ErrUnsupportedVersion)
	}

	if !h.Type.Valid() {
		return Header{}, fmt.Errorf("Failed to decode type 0x%02x: %w", byte(h.Type), ErrUnknownType)
	}

	if h.Flags&FlagEncrypted != 0 {
		return Header{}, ErrEncryptedFrame
	}

	if h.Flags&flagReservedMask != 0 {
		return Header{}, ErrReservedFlags
	}

	if binary.BigEndian.Uint32(b[28:32]) != 0 {
		return Header{}, ErrReservedField
	}

	return h, nil
}

// DecodeFrame parses a complete frame from b. The returned frame's payload
// is fully inflated; maxPayload bounds both the on-wire and the inflated
// payload size.
func DecodeFrame(b []byte, maxPayload uint32) (Frame, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Frame{}, err
	}

	if h.Length > maxPayload {
		return Frame{}, ErrFrameTooLarge
	}

	if uint32(len(b)-HeaderSize) < h.Length {
		return Frame{}, ErrShortPayload
	}

	payload := b[HeaderSize : HeaderSize+int(h.Length)]

	flags := h.Flags
	if flags&FlagCompressed != 0 {
		payload, err = inflate(payload, maxPayload)
		if err != nil {
			return Frame{}, err
		}

		flags &^= FlagCompressed
	} else {
		// Copy out of the caller's buffer so the frame owns its payload.
		payload = append([]byte(nil), payload...)
	}

	return Frame{
		Type:        h.Type,
		Flags:       flags,
		Correlation: h.Correlation,
		Timestamp:   h.Timestamp,
		Payload:     payload,
	}, nil
}

func deflate(payload []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(payload); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func inflate(payload []byte, maxPayload uint32) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(payload))
	defer r.Close()

	// Read one byte past the cap so oversized payloads are detectable.
	out, err := io.ReadAll(io.LimitReader(r, int64(maxPayload)+1))
	if err != nil {
		return nil, fmt.Errorf("Failed to inflate payload: %w", err)
	}

	if uint32(len(out)) > maxPayload {
		return nil, ErrInflateTooLarge
	}

	return out, nil
}
