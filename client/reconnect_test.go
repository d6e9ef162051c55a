package client_test

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/DarsheeeGamer/NetConduit/client"
	"github.com/DarsheeeGamer/NetConduit/server"
)

const testPassword = "reconnect_secret"

func startServer(port int) *server.Server {
	srv := server.New(server.Options{
		Host:              "127.0.0.1",
		Port:              port,
		Password:          testPassword,
		Name:              "reconnect_server",
		Version:           "1.0.0",
		NumListeners:      1,
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  5 * time.Second,
	})

	Expect(srv.Start(context.Background())).To(Succeed())
	return srv
}

func serverPort(srv *server.Server) int {
	_, portStr, err := net.SplitHostPort(srv.Addr())
	Expect(err).To(Succeed())

	port, err := strconv.Atoi(portStr)
	Expect(err).To(Succeed())
	return port
}

var _ = Describe("Client reconnect supervisor", func() {
	It("re-establishes a fresh connection after the server comes back", func() {
		srv := startServer(0)
		port := serverPort(srv)

		var (
			connects   atomic.Int32
			reconnects atomic.Int32
		)

		cli := client.New(client.Options{
			ServerHost:               "127.0.0.1",
			ServerPort:               port,
			Password:                 testPassword,
			Name:                     "reconnector",
			Version:                  "1.0.0",
			ConnectTimeout:           time.Second,
			HeartbeatInterval:        50 * time.Millisecond,
			HeartbeatTimeout:         500 * time.Millisecond,
			ReconnectEnabled:         true,
			ReconnectAttempts:        0,
			ReconnectDelay:           50 * time.Millisecond,
			ReconnectDelayMultiplier: 1.5,
			ReconnectDelayMax:        200 * time.Millisecond,
		})

		cli.OnConnect(func(*client.Client) { connects.Add(1) })
		cli.OnReconnect(func(*client.Client) { reconnects.Add(1) })

		Expect(cli.Connect(context.Background())).To(Succeed())
		defer cli.Disconnect()

		firstID := cli.Connection().ID()

		// Take the server down; the client should notice via heartbeat or
		// transport failure and start the backoff loop.
		Expect(srv.Close()).To(Succeed())
		Eventually(cli.IsConnected, 3*time.Second).Should(BeFalse())

		// Bring a fresh server up on the same port.
		srv = startServer(port)
		defer srv.Close()

		Eventually(cli.IsConnected, 5*time.Second).Should(BeTrue())
		Eventually(func() int32 { return reconnects.Load() }, 5*time.Second).Should(Equal(int32(1)))
		Expect(connects.Load()).To(Equal(int32(2)))

		// Reconnection is a fresh Connection, never a resurrection.
		Expect(cli.Connection().ID()).NotTo(Equal(firstID))
	})

	It("stops after the configured number of failed attempts", func() {
		srv := startServer(0)
		port := serverPort(srv)

		var disconnects atomic.Int32

		cli := client.New(client.Options{
			ServerHost:               "127.0.0.1",
			ServerPort:               port,
			Password:                 testPassword,
			Name:                     "giveup",
			Version:                  "1.0.0",
			ConnectTimeout:           200 * time.Millisecond,
			HeartbeatInterval:        50 * time.Millisecond,
			HeartbeatTimeout:         300 * time.Millisecond,
			ReconnectEnabled:         true,
			ReconnectAttempts:        2,
			ReconnectDelay:           20 * time.Millisecond,
			ReconnectDelayMultiplier: 2,
			ReconnectDelayMax:        100 * time.Millisecond,
		})

		cli.OnDisconnect(func(*client.Client) { disconnects.Add(1) })

		Expect(cli.Connect(context.Background())).To(Succeed())
		defer cli.Disconnect()

		// The server never comes back this time.
		Expect(srv.Close()).To(Succeed())

		Eventually(cli.IsConnected, 3*time.Second).Should(BeFalse())
		Eventually(func() int32 { return disconnects.Load() }, 3*time.Second).Should(Equal(int32(1)))

		// Give the supervisor time to exhaust both attempts and give up.
		Consistently(cli.IsConnected, time.Second).Should(BeFalse())
	})

	It("does not reconnect after a local Disconnect", func() {
		srv := startServer(0)
		defer srv.Close()

		cli := client.New(client.Options{
			ServerHost:        "127.0.0.1",
			ServerPort:        serverPort(srv),
			Password:          testPassword,
			Name:              "leaver",
			Version:           "1.0.0",
			ConnectTimeout:    time.Second,
			HeartbeatInterval: 50 * time.Millisecond,
			ReconnectEnabled:  true,
			ReconnectDelay:    20 * time.Millisecond,
		})

		Expect(cli.Connect(context.Background())).To(Succeed())
		Expect(cli.Disconnect()).To(Succeed())

		Consistently(cli.IsConnected, 500*time.Millisecond).Should(BeFalse())
	})
})
