package protocol_test

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/DarsheeeGamer/NetConduit/protocol"
)

var _ = Describe("Codec", func() {
	Describe("EncodeFrame()", func() {
		It("produces exactly header plus payload bytes", func() {
			f := protocol.NewFrame(protocol.TypeMessage, 7, []byte("hello"))

			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{})
			Expect(err).To(Succeed())
			Expect(buf).To(HaveLen(protocol.HeaderSize + 5))
		})

		It("starts with the CNDT magic", func() {
			f := protocol.NewFrame(protocol.TypePause, 0, nil)

			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{})
			Expect(err).To(Succeed())
			Expect(buf[:4]).To(Equal([]byte("CNDT")))
		})

		It("writes all header integers big-endian", func() {
			f := protocol.NewFrame(protocol.TypeRPCRequest, 0x0102030405060708, []byte("x"))

			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{})
			Expect(err).To(Succeed())
			Expect(binary.BigEndian.Uint32(buf[8:12])).To(Equal(uint32(1)))
			Expect(binary.BigEndian.Uint64(buf[12:20])).To(Equal(uint64(0x0102030405060708)))
		})

		It("does not compress small payloads even when asked", func() {
			f := protocol.NewFrame(protocol.TypeMessage, 1, []byte("tiny"))

			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{Compress: true})
			Expect(err).To(Succeed())

			flags := protocol.Flags(binary.BigEndian.Uint16(buf[6:8]))
			Expect(flags & protocol.FlagCompressed).To(Equal(protocol.Flags(0)))
		})

		It("compresses large compressible payloads and shrinks the frame", func() {
			payload := bytes.Repeat([]byte("conduit "), 100)
			f := protocol.NewFrame(protocol.TypeMessage, 1, payload)

			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{Compress: true})
			Expect(err).To(Succeed())

			flags := protocol.Flags(binary.BigEndian.Uint16(buf[6:8]))
			Expect(flags & protocol.FlagCompressed).To(Equal(protocol.FlagCompressed))
			Expect(len(buf)).To(BeNumerically("<", protocol.HeaderSize+len(payload)))
		})
	})

	Describe("DecodeFrame()", func() {
		roundTrip := func(f protocol.Frame, opts protocol.EncodeOptions) protocol.Frame {
			buf, err := protocol.EncodeFrame(f, opts)
			Expect(err).To(Succeed())

			decoded, err := protocol.DecodeFrame(buf, protocol.DefaultMaxFrameSize)
			Expect(err).To(Succeed())
			return decoded
		}

		It("round-trips an uncompressed frame byte-for-byte", func() {
			f := protocol.NewFrame(protocol.TypeRPCResponse, 99, []byte("result"))

			decoded := roundTrip(f, protocol.EncodeOptions{})
			Expect(decoded.Type).To(Equal(protocol.TypeRPCResponse))
			Expect(decoded.Correlation).To(Equal(uint64(99)))
			Expect(decoded.Timestamp).To(Equal(f.Timestamp))
			Expect(decoded.Payload).To(Equal([]byte("result")))
		})

		It("round-trips a compressed frame back to the logical payload", func() {
			payload := bytes.Repeat([]byte("0123456789"), 64)
			f := protocol.NewFrame(protocol.TypeMessage, 3, payload)

			decoded := roundTrip(f, protocol.EncodeOptions{Compress: true})
			Expect(decoded.Payload).To(Equal(payload))
			Expect(decoded.Flags & protocol.FlagCompressed).To(Equal(protocol.Flags(0)))
		})

		It("round-trips a frame with length zero and an empty payload", func() {
			f := protocol.NewFrame(protocol.TypeHeartbeatPing, 12, nil)

			decoded := roundTrip(f, protocol.EncodeOptions{})
			Expect(decoded.Payload).To(BeEmpty())
		})

		It("rejects a wrong magic", func() {
			f := protocol.NewFrame(protocol.TypeMessage, 1, []byte("x"))
			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{})
			Expect(err).To(Succeed())

			copy(buf[:4], "EVIL")
			_, err = protocol.DecodeFrame(buf, protocol.DefaultMaxFrameSize)
			Expect(err).To(MatchError(protocol.ErrBadMagic))
		})

		It("rejects an unsupported version", func() {
			f := protocol.NewFrame(protocol.TypeMessage, 1, []byte("x"))
			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{})
			Expect(err).To(Succeed())

			buf[4] = 9
			_, err = protocol.DecodeFrame(buf, protocol.DefaultMaxFrameSize)
			Expect(errors.Is(err, protocol.ErrUnsupportedVersion)).To(BeTrue())
		})

		It("rejects the encrypted flag", func() {
			f := protocol.NewFrame(protocol.TypeMessage, 1, []byte("x"))
			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{})
			Expect(err).To(Succeed())

			binary.BigEndian.PutUint16(buf[6:8], uint16(protocol.FlagEncrypted))
			_, err = protocol.DecodeFrame(buf, protocol.DefaultMaxFrameSize)
			Expect(err).To(MatchError(protocol.ErrEncryptedFrame))
		})

		It("tolerates priority hint bits", func() {
			f := protocol.NewFrame(protocol.TypeMessage, 1, []byte("x"))
			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{})
			Expect(err).To(Succeed())

			binary.BigEndian.PutUint16(buf[6:8], 0x0004)
			_, err = protocol.DecodeFrame(buf, protocol.DefaultMaxFrameSize)
			Expect(err).To(Succeed())
		})

		It("rejects reserved flag bits", func() {
			f := protocol.NewFrame(protocol.TypeMessage, 1, []byte("x"))
			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{})
			Expect(err).To(Succeed())

			binary.BigEndian.PutUint16(buf[6:8], 0x8000)
			_, err = protocol.DecodeFrame(buf, protocol.DefaultMaxFrameSize)
			Expect(err).To(MatchError(protocol.ErrReservedFlags))
		})

		It("rejects a non-zero reserved header field", func() {
			f := protocol.NewFrame(protocol.TypeMessage, 1, []byte("x"))
			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{})
			Expect(err).To(Succeed())

			buf[30] = 1
			_, err = protocol.DecodeFrame(buf, protocol.DefaultMaxFrameSize)
			Expect(err).To(MatchError(protocol.ErrReservedField))
		})

		It("rejects a truncated payload", func() {
			f := protocol.NewFrame(protocol.TypeMessage, 1, []byte("truncate me"))
			buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{})
			Expect(err).To(Succeed())

			_, err = protocol.DecodeFrame(buf[:len(buf)-3], protocol.DefaultMaxFrameSize)
			Expect(err).To(MatchError(protocol.ErrShortPayload))
		})

		It("accepts a payload exactly at the cap and rejects one byte over", func() {
			max := uint32(256)

			at := protocol.NewFrame(protocol.TypeMessage, 1, make([]byte, int(max)))
			buf, err := protocol.EncodeFrame(at, protocol.EncodeOptions{})
			Expect(err).To(Succeed())
			_, err = protocol.DecodeFrame(buf, max)
			Expect(err).To(Succeed())

			over := protocol.NewFrame(protocol.TypeMessage, 1, make([]byte, int(max)+1))
			buf, err = protocol.EncodeFrame(over, protocol.EncodeOptions{})
			Expect(err).To(Succeed())
			_, err = protocol.DecodeFrame(buf, max)
			Expect(err).To(MatchError(protocol.ErrFrameTooLarge))
		})

		It("rejects a compressed payload that inflates beyond the cap", func() {
			// Hand-build a frame whose deflated payload is small but
			// inflates to far more than the cap.
			var deflated bytes.Buffer
			w, err := flate.NewWriter(&deflated, flate.BestCompression)
			Expect(err).To(Succeed())
			_, err = w.Write(make([]byte, 1024*1024))
			Expect(err).To(Succeed())
			Expect(w.Close()).To(Succeed())

			buf := make([]byte, protocol.HeaderSize+deflated.Len())
			copy(buf[:4], "CNDT")
			buf[4] = protocol.ProtocolVersion
			buf[5] = byte(protocol.TypeMessage)
			binary.BigEndian.PutUint16(buf[6:8], uint16(protocol.FlagCompressed))
			binary.BigEndian.PutUint32(buf[8:12], uint32(deflated.Len()))
			copy(buf[protocol.HeaderSize:], deflated.Bytes())

			_, err = protocol.DecodeFrame(buf, 64*1024)
			Expect(err).To(MatchError(protocol.ErrInflateTooLarge))
		})
	})
})
