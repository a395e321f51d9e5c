// clipsyncd relays clipboard and file-transfer traffic between a paired
// desktop and mobile device.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "clipsyncd",
		Short:        "ClipSync pairing and relay server",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newMintCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
