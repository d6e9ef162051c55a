package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/DarsheeeGamer/NetConduit/client"
	"github.com/DarsheeeGamer/NetConduit/internal/env"
)

var callParams string

func init() {
	flags := CallCmd.PersistentFlags()

	flags.StringVarP(&callParams, "params", "d", "{}", "Method parameters as a JSON object")
}

var CallCmd = &cobra.Command{
	Use:   "call <method>",
	Short: "Perform a one-shot RPC against a Conduit server",
	Args:  cobra.ExactArgs(1),
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

		var params map[string]any
		if err := json.Unmarshal([]byte(callParams), &params); err != nil {
			return fmt.Errorf("Failed to parse --params: %w", err)
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

		result, err := cli.Call(ctx, args[0], params)
		if err != nil {
			return err
		}

		if !result.Success {
			return result.AsError()
		}

		out, err := json.MarshalIndent(result.Data, "", "  ")
		if err != nil {
			return err
		}

		fmt.Println(string(out))
		return nil
	},
}
