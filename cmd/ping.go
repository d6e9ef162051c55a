package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/DarsheeeGamer/NetConduit/client"
	"github.com/DarsheeeGamer/NetConduit/internal/env"
)

var PingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Connect, authenticate, and report connection health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		if err := conf.Validate(); err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.Debug)
		if err != nil {
			return err
		}

		cli := client.New(client.Options{
			ServerHost:        conf.ServerHost,
			ServerPort:        conf.ServerPort,
			IPv6:              conf.IPv6,
			Password:          conf.Password,
			Name:              conf.Name,
			Version:           conf.Version,
			ConnectTimeout:    conf.ConnectTimeout.STD(),
			AuthTimeout:       conf.AuthTimeout.STD(),
			RPCTimeout:        conf.RPCTimeout.STD(),
			HeartbeatInterval: conf.HeartbeatInterval.STD(),
			HeartbeatTimeout:  conf.HeartbeatTimeout.STD(),
			Log:               log,
		})

		if err := cli.Connect(ctx); err != nil {
			return err
		}
		defer cli.Disconnect()

		health := cli.Health()

		fmt.Printf("state: %s\n", health.State)
		fmt.Printf("rtt: %s\n", health.RTT)
		fmt.Printf("bytes sent: %d\n", health.BytesSent)
		fmt.Printf("bytes received: %d\n", health.BytesReceived)

		return nil
	},
}
