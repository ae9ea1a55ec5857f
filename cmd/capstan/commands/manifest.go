// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/capstan-io/capstan/cmd/capstan/cli"
	"github.com/capstan-io/capstan/lib/manifest"
)

// manifestParams holds the parameters for capstan manifest.
type manifestParams struct {
	cli.JSONOutput
	Session string `flag:"session,s" desc:"session id (required)"`
	Config  string `flag:"config,c"  desc:"config file path (default: $CAPSTAN_CONFIG)"`
}

func manifestCommand() *cli.Command {
	var params manifestParams

	return &cli.Command{
		Name:    "manifest",
		Summary: "Show a sealed session's manifest",
		Description: `Read a sealed session's manifest from the manifest store, check its
integrity (the manifest hash, and the Ed25519 signature when
present), and print it.

This inspects only the manifest file; it does not touch the chunk
store or decrypt anything. Use 'capstan verify' for the full
end-to-end check.`,
		Usage: "capstan manifest --session <id> [flags]",
		Examples: []cli.Example{
			{
				Description: "Print a manifest summary",
				Command:     "capstan manifest --session 1f0c9ab2d4e6880a1f0c9ab2d4e6880a",
			},
			{
				Description: "Dump the full manifest as JSON",
				Command:     "capstan manifest --session 1f0c9ab2d4e6880a1f0c9ab2d4e6880a --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("manifest", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			id, err := parseSession(params.Session)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(params.Config)
			if err != nil {
				return err
			}

			manifests, err := manifest.NewStore(cfg.Paths.Manifests)
			if err != nil {
				return err
			}
			m, err := manifests.Read(id)
			if err != nil {
				return err
			}

			if err := m.VerifyHash(); err != nil {
				return err
			}
			signed := len(m.Signature) > 0
			if signed {
				if err := manifest.Verify(m); err != nil {
					return err
				}
			}

			if done, err := params.EmitJSON(m); done {
				return err
			}

			fmt.Printf("Session:     %s\n", m.SessionID)
			fmt.Printf("Owner:       %s\n", m.Owner)
			fmt.Printf("Chunks:      %d\n", m.ChunkCount)
			fmt.Printf("Plaintext:   %d bytes\n", m.PlaintextSize)
			fmt.Printf("Ciphertext:  %d bytes\n", m.CiphertextSize)
			fmt.Printf("Codec:       %s\n", m.Codec)
			fmt.Printf("Merkle root: %s\n", m.MerkleRoot)
			fmt.Printf("Started:     %s\n", m.StartedAt().Format(time.RFC3339))
			fmt.Printf("Sealed:      %s\n", m.SealedAt().Format(time.RFC3339))
			fmt.Printf("Hash:        %s\n", m.Hash)
			if signed {
				fmt.Printf("Signature:   valid (ed25519)\n")
			} else {
				fmt.Printf("Signature:   absent\n")
			}
			return nil
		},
	}
}
