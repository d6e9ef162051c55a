package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DarsheeeGamer/NetConduit/cmd/gen"
	"github.com/DarsheeeGamer/NetConduit/internal/meta"
)

var rootCmd = &cobra.Command{
	Use:   "conduit",
	Short: "Conduit bidirectional TCP messaging service",
	Long: `Conduit multiplexes typed messages, correlated RPC calls, and
keep-alive probes over a single authenticated TCP stream.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := meta.GetInfo()
		fmt.Printf("conduit %s (%s, %s, %s)\n",
			info.Version, info.Build, info.GoVersion, info.Platform)
	},
}

func init() {
	rootCmd.AddCommand(ServeCmd)
	rootCmd.AddCommand(CallCmd)
	rootCmd.AddCommand(PingCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
