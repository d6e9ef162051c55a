package storage_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/DarsheeeGamer/NetConduit/storage"
)

var _ = Describe("storage / InmemoryStore", func() {
	var session = storage.Session{
		Token:       "f81d4fae-7dec-11d0-a765-00a0c91e6bf6",
		ConnID:      "conn-1",
		ClientName:  "tester",
		Address:     "127.0.0.1:52100",
		ConnectedAt: 1700000000,
	}

	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})
	})

	It("an empty store backs up as {}", func() {
		store := storage.NewInmemoryStore()
		defer store.Close()

		value, err := store.Backup()
		Expect(err).To(Succeed())
		Expect(string(value)).To(Equal(`{}`))
	})

	Describe("Put() / Get()", func() {
		It("can read back a stored session", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Put(context.Background(), session)).To(Succeed())

			got, err := store.Get(context.Background(), session.Token)
			Expect(err).To(Succeed())
			Expect(got).NotTo(BeNil())
			Expect(got.ConnID).To(Equal("conn-1"))
			Expect(got.ClientName).To(Equal("tester"))
		})

		It("returns nil for a token that was never stored", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			got, err := store.Get(context.Background(), "nope")
			Expect(err).To(Succeed())
			Expect(got).To(BeNil())
		})

		It("sends on the update channel when sessions are stored", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			updates := store.ListenToUpdates()

			Expect(store.Put(context.Background(), session)).To(Succeed())

			var update *storage.Update
			Eventually(updates).Should(Receive(&update))
			Expect(update.Token).To(Equal(session.Token))
			Expect(update.Removed).To(BeFalse())
		})
	})

	Describe("Remove()", func() {
		It("drops the session and notifies listeners", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Put(context.Background(), session)).To(Succeed())

			updates := store.ListenToUpdates()
			Expect(store.Remove(context.Background(), session.Token)).To(Succeed())

			got, err := store.Get(context.Background(), session.Token)
			Expect(err).To(Succeed())
			Expect(got).To(BeNil())

			var update *storage.Update
			Eventually(updates).Should(Receive(&update))
			Expect(update.Removed).To(BeTrue())
		})
	})

	Describe("Backup() / Restore()", func() {
		It("round-trips the session table", func() {
			store := storage.NewInmemoryStore()
			Expect(store.Put(context.Background(), session)).To(Succeed())

			dump, err := store.Backup()
			Expect(err).To(Succeed())
			store.Close()

			restored := storage.NewInmemoryStore()
			defer restored.Close()

			Expect(restored.Restore(dump)).To(Succeed())

			got, err := restored.Get(context.Background(), session.Token)
			Expect(err).To(Succeed())
			Expect(got).NotTo(BeNil())
			Expect(got.Address).To(Equal(session.Address))
		})
	})
})
