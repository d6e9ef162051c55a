package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/DarsheeeGamer/NetConduit/protocol"
)

var _ = Describe("Payloads", func() {
	It("round-trips an auth request", func() {
		in := protocol.AuthRequest{
			PasswordHash: "deadbeef",
			ClientInfo:   protocol.PeerInfo{Name: "tester", Version: "1.0.0"},
		}

		b, err := protocol.EncodeBody(in)
		Expect(err).To(Succeed())

		var out protocol.AuthRequest
		Expect(protocol.DecodeBody(b, &out)).To(Succeed())
		Expect(out).To(Equal(in))
	})

	It("round-trips an RPC request with mixed parameter types", func() {
		in := protocol.RPCRequest{
			Method: "calculate",
			Params: map[string]any{
				"operation": "add",
				"a":         int64(15),
				"b":         int64(27),
				"exact":     true,
			},
		}

		b, err := protocol.EncodeBody(in)
		Expect(err).To(Succeed())

		var out protocol.RPCRequest
		Expect(protocol.DecodeBody(b, &out)).To(Succeed())
		Expect(out.Method).To(Equal("calculate"))
		Expect(out.Params).To(HaveKeyWithValue("operation", "add"))
		Expect(out.Params["a"]).To(BeEquivalentTo(15))
		Expect(out.Params["exact"]).To(Equal(true))
	})

	It("omits empty optional fields from an RPC error", func() {
		b, err := protocol.EncodeBody(protocol.RPCError{Error: "boom"})
		Expect(err).To(Succeed())

		var out map[string]any
		Expect(protocol.DecodeBody(b, &out)).To(Succeed())
		Expect(out).NotTo(HaveKey("code"))
		Expect(out).NotTo(HaveKey("details"))
	})

	It("rejects garbage bytes", func() {
		var out protocol.MessageBody
		Expect(protocol.DecodeBody([]byte{0xc1, 0xff, 0x00}, &out)).NotTo(Succeed())
	})
})
