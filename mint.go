package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"clipsync/internal/config"
	"clipsync/internal/pairing"
	"clipsync/internal/session"
)

func newMintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mint",
		Short: "Mint a pairing credential and print it, without starting a server",
		Long: `Registers a single throwaway session in an in-process registry and prints
its {pairId, token} as JSON. The credential is only known to this
process and is discarded when it exits; a separately running server
has no session for it and rejects it at /connect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := session.NewRegistry()
			creds, err := pairing.Mint(reg, config.Default().MintTTL)
			if err != nil {
				return fmt.Errorf("mint: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(creds)
		},
	}
}
