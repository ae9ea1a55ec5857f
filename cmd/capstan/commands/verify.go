// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/capstan-io/capstan/cmd/capstan/cli"
	"github.com/capstan-io/capstan/lib/manifest"
	"github.com/capstan-io/capstan/lib/session"
)

// verifyParams holds the parameters for capstan verify.
type verifyParams struct {
	cli.JSONOutput
	Session string `flag:"session,s" desc:"session id (required)"`
	Config  string `flag:"config,c"  desc:"config file path (default: $CAPSTAN_CONFIG)"`
}

// verifyResult is the JSON output for capstan verify. On failure,
// Report is omitted and Error carries the first finding.
type verifyResult struct {
	Verified bool                  `json:"verified"`
	Report   *session.VerifyReport `json:"report,omitempty"`
	Error    string                `json:"error,omitempty"`
}

func verifyCommand() *cli.Command {
	var params verifyParams

	return &cli.Command{
		Name:    "verify",
		Summary: "Re-verify a sealed session end to end",
		Description: `Recompute a sealed session from its stored chunks and compare the
result against the manifest: the manifest hash and signature, every
chunk's authentication tag and content hash, the rebuilt Merkle
root, the plaintext size, and spot-checked inclusion proofs.

A verification finding (a missing chunk, a ciphertext that fails
authentication, a root mismatch, a bad signature) prints the failure
and exits 1. Infrastructure problems (no manifest, unreadable
stores, missing key material) exit 1 with an error instead of a
finding.

Needs the node identity and sealed master key to decrypt chunks, and
must not run against the badger store while the service holds its
lock.`,
		Usage: "capstan verify --session <id> [flags]",
		Examples: []cli.Example{
			{
				Description: "Verify a session and print the report",
				Command:     "capstan verify --session 1f0c9ab2d4e6880a1f0c9ab2d4e6880a",
			},
			{
				Description: "Machine-readable verification for scripting",
				Command:     "capstan verify --session 1f0c9ab2d4e6880a1f0c9ab2d4e6880a --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("verify", &params)
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

			store, err := openChunkStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			keys, err := openKeySet(cfg)
			if err != nil {
				return err
			}
			defer keys.Close()

			report, err := session.Verify(context.Background(), keys, store, m)
			if err != nil {
				if done, jsonErr := params.EmitJSON(verifyResult{
					Verified: false,
					Error:    err.Error(),
				}); done {
					if jsonErr != nil {
						return jsonErr
					}
					return &cli.ExitError{Code: 1}
				}
				fmt.Printf("FAILED: session %s\n", id)
				fmt.Printf("  %v\n", err)
				return &cli.ExitError{Code: 1}
			}

			if done, err := params.EmitJSON(verifyResult{
				Verified: true,
				Report:   &report,
			}); done {
				return err
			}

			fmt.Printf("OK: session %s\n", report.SessionID)
			fmt.Printf("  Chunks:      %d\n", report.ChunkCount)
			fmt.Printf("  Plaintext:   %d bytes\n", report.PlaintextSize)
			fmt.Printf("  Merkle root: %s\n", report.MerkleRoot)
			if report.Signed {
				fmt.Printf("  Signature:   valid\n")
			} else {
				fmt.Printf("  Signature:   absent\n")
			}
			fmt.Printf("  Proofs:      %d spot-checked\n", report.ProofsChecked)
			return nil
		},
	}
}
