package client

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("backoffDelay", func() {
	newClient := func(initial, max time.Duration, multiplier float64) *Client {
		return New(Options{
			ReconnectDelay:           initial,
			ReconnectDelayMax:        max,
			ReconnectDelayMultiplier: multiplier,
		})
	}

	It("grows exponentially from the initial delay", func() {
		c := newClient(time.Second, time.Hour, 2)

		Expect(c.backoffDelay(0)).To(Equal(time.Second))
		Expect(c.backoffDelay(1)).To(Equal(2 * time.Second))
		Expect(c.backoffDelay(2)).To(Equal(4 * time.Second))
		Expect(c.backoffDelay(3)).To(Equal(8 * time.Second))
	})

	It("caps at the maximum delay", func() {
		c := newClient(time.Second, 5*time.Second, 2)

		Expect(c.backoffDelay(10)).To(Equal(5 * time.Second))
	})

	It("honours a non-integer multiplier", func() {
		c := newClient(time.Second, time.Hour, 1.5)

		Expect(c.backoffDelay(1)).To(Equal(1500 * time.Millisecond))
	})
})
