package connection

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("State machine", func() {
	Describe("legalTransitions", func() {
		It("allows the documented lifecycle path", func() {
			path := []State{
				StateDisconnected,
				StateConnecting,
				StateAuthenticating,
				StateConnected,
				StateActive,
				StatePaused,
				StateActive,
			}

			for i := 0; i < len(path)-1; i++ {
				Expect(legalTransitions[path[i]][path[i+1]]).To(BeTrue(),
					"expected %s -> %s to be legal", path[i], path[i+1])
			}
		})

		It("allows failure from every pre-terminal connected state", func() {
			for _, from := range []State{StateConnecting, StateAuthenticating, StateConnected, StateActive, StatePaused} {
				Expect(legalTransitions[from][StateFailed]).To(BeTrue(),
					"expected %s -> FAILED to be legal", from)
			}
		})

		It("only closes through CLOSING", func() {
			Expect(legalTransitions[StateClosing][StateClosed]).To(BeTrue())
			Expect(legalTransitions[StateActive][StateClosed]).To(BeFalse())
			Expect(legalTransitions[StateConnected][StateClosed]).To(BeFalse())
		})

		It("treats CLOSED and FAILED as terminal", func() {
			Expect(legalTransitions[StateClosed]).To(BeEmpty())
			Expect(legalTransitions[StateFailed]).To(BeEmpty())
			Expect(StateClosed.Terminal()).To(BeTrue())
			Expect(StateFailed.Terminal()).To(BeTrue())
		})

		It("never allows skipping authentication", func() {
			Expect(legalTransitions[StateConnecting][StateConnected]).To(BeFalse())
			Expect(legalTransitions[StateConnecting][StateActive]).To(BeFalse())
		})
	})

	Describe("transition()", func() {
		It("rejects an illegal transition without mutating state", func() {
			conn := New(Options{})
			Expect(conn.State()).To(Equal(StateDisconnected))

			err := conn.transition(StateActive)

			var stateErr *StateError
			Expect(err).To(BeAssignableToTypeOf(stateErr))
			Expect(conn.State()).To(Equal(StateDisconnected))
		})

		It("applies a legal transition", func() {
			conn := New(Options{})

			Expect(conn.transition(StateConnecting)).To(Succeed())
			Expect(conn.State()).To(Equal(StateConnecting))
		})
	})

	Describe("CanSend()", func() {
		It("permits frames only in the emitting states", func() {
			Expect(StateAuthenticating.CanSend()).To(BeTrue())
			Expect(StateConnected.CanSend()).To(BeTrue())
			Expect(StateActive.CanSend()).To(BeTrue())
			Expect(StatePaused.CanSend()).To(BeTrue())
			Expect(StateClosing.CanSend()).To(BeTrue())

			Expect(StateDisconnected.CanSend()).To(BeFalse())
			Expect(StateConnecting.CanSend()).To(BeFalse())
			Expect(StateClosed.CanSend()).To(BeFalse())
			Expect(StateFailed.CanSend()).To(BeFalse())
		})
	})
})

var _ = Describe("pendingTable", func() {
	It("completes a pending slot with the matching frame", func() {
		table := newPendingTable()
		slot := table.create(42)

		Expect(table.complete(42, nil)).To(BeTrue())

		var res pendingResult
		Eventually(slot).Should(Receive(&res))
		Expect(res.err).To(BeNil())
	})

	It("reports false for an unknown correlation", func() {
		table := newPendingTable()
		Expect(table.complete(7, nil)).To(BeFalse())
	})

	It("never completes a removed slot", func() {
		table := newPendingTable()
		slot := table.create(9)

		table.remove(9)
		Expect(table.complete(9, nil)).To(BeFalse())
		Consistently(slot).ShouldNot(Receive())
	})

	It("fails every outstanding slot at once", func() {
		table := newPendingTable()
		first := table.create(1)
		second := table.create(2)

		table.failAll(ErrConnectionLost)

		var res pendingResult
		Eventually(first).Should(Receive(&res))
		Expect(res.err).To(MatchError(ErrConnectionLost))

		Eventually(second).Should(Receive(&res))
		Expect(res.err).To(MatchError(ErrConnectionLost))

		Expect(table.size()).To(Equal(0))
	})
})
