// Command dwn runs the decentralized web node engine as a single
// embedded binary: the CLI drives an in-process dwn.Node directly rather
// than dialing a remote service, mirroring cmd/warren's single-binary
// posture for the pieces of the stack this engine actually owns.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ryftlabs/dwn/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dwn",
	Short: "dwn - a decentralized web node core authorization and storage engine",
	Long: `dwn implements the record lifecycle, protocol authorization, and
permission-grant engines of a Decentralized Web Node, backed by a
bbolt message/data/event store and one serialized ordering log per
tenant.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("dwn version %s\ncommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("data-dir", "", "directory the node's store and ordering logs persist under")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(keysCmd, recordsCmd, protocolsCmd, permissionsCmd, eventsCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}
