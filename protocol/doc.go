package protocol

// This package implements serialising and parsing of the framed binary
// protocol that Conduit servers and clients speak to each other.
//
// Every protocol exchange is carried in a Frame: a 32 byte fixed header
// followed by an opaque, length-prefixed payload.
//
// === Header layout
//
//   ```
//     offset  width  field
//     0       4      magic        always "CNDT"
//     4       1      version      currently 1
//     5       1      type         message type tag, see types.go
//     6       2      flags        bit 0 = compressed
//     8       4      length       payload byte count
//     12      8      correlation  request/response matching id
//     20      8      timestamp    sender wall-clock, ms since epoch
//     28      4      reserved     must be zero
//   ```
//
// All multi-byte integers are big-endian unsigned. A correlation id of 0
// means the frame is unsolicited; responses mirror the correlation id of
// the request they answer.
//
// === Payloads
//
// Non-control payloads are MessagePack objects. The concrete shapes per
// message type live in payload.go. Payloads may be deflate-compressed on
// the wire; senders decide, receivers must cope. Compression is only ever
// applied when it actually shrinks the payload, so the compressed flag can
// be trusted on decode.
//
// === Parsing from a stream
//
// The Framer accumulates raw bytes from the transport and emits complete
// frames. A single frame is atomic on the wire: you will never observe
// half of one frame interleaved with another on the same connection.
//
// Anything that breaks the framing contract (bad magic, unsupported
// version, oversized frame, reserved bits set) is unrecoverable for the
// stream. Callers are expected to close the connection on any error
// returned from this package's decode paths.
