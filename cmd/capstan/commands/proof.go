// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/capstan-io/capstan/cmd/capstan/cli"
	"github.com/capstan-io/capstan/lib/manifest"
	"github.com/capstan-io/capstan/lib/merkle"
	"github.com/capstan-io/capstan/lib/session"
)

// proofParams holds the parameters for capstan proof.
type proofParams struct {
	cli.JSONOutput
	Session string `flag:"session,s" desc:"session id (required)"`
	Config  string `flag:"config,c"  desc:"config file path (default: $CAPSTAN_CONFIG)"`
	Index   int64  `flag:"index,i"   desc:"chunk index of the leaf to prove (0-based) (required)" default:"-1"`
}

// proofResult is the JSON output for capstan proof.
type proofResult struct {
	SessionID session.ID   `json:"session_id"`
	Index     uint64       `json:"chunk_index"`
	Leaf      merkle.Hash  `json:"leaf"`
	Root      merkle.Hash  `json:"merkle_root"`
	Proof     merkle.Proof `json:"proof"`
}

func proofCommand() *cli.Command {
	var params proofParams

	return &cli.Command{
		Name:    "proof",
		Summary: "Produce a Merkle inclusion proof for one chunk",
		Description: `Build the inclusion proof for one chunk of a sealed session: the
sibling hashes linking that chunk's ciphertext hash to the Merkle
root in the manifest.

A third party holding only the proof and the anchored root can check
that the chunk belongs to the session without the chunk store or any
key material. Proof construction reads only stored ciphertext
hashes, so this command needs no keys either.`,
		Usage: "capstan proof --session <id> --index <n> [flags]",
		Examples: []cli.Example{
			{
				Description: "Prove chunk 17 and print the path",
				Command:     "capstan proof --session 1f0c9ab2d4e6880a1f0c9ab2d4e6880a --index 17",
			},
			{
				Description: "Emit the proof as JSON for a remote verifier",
				Command:     "capstan proof --session 1f0c9ab2d4e6880a1f0c9ab2d4e6880a --index 17 --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("proof", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			id, err := parseSession(params.Session)
			if err != nil {
				return err
			}
			if params.Index < 0 {
				return fmt.Errorf("--index is required")
			}
			index := uint64(params.Index)

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
			if m.ChunkCount == 0 {
				return fmt.Errorf("session %s has no chunks to prove", id)
			}
			if index >= m.ChunkCount {
				return fmt.Errorf("index %d out of range: session has %d chunks", index, m.ChunkCount)
			}

			store, err := openChunkStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := context.Background()
			leaves := make([]merkle.Hash, m.ChunkCount)
			for i := uint64(0); i < m.ChunkCount; i++ {
				record, err := store.Get(ctx, id, i)
				if err != nil {
					return fmt.Errorf("reading chunk %d: %w", i, err)
				}
				leaves[i] = record.CipherHash
			}

			proof, err := merkle.BuildProof(leaves, int(index))
			if err != nil {
				return err
			}
			if !proof.Verify(leaves[index], m.MerkleRoot) {
				return fmt.Errorf("proof for chunk %d does not verify against the manifest root (chunk store and manifest disagree)", index)
			}

			if done, err := params.EmitJSON(proofResult{
				SessionID: m.SessionID,
				Index:     index,
				Leaf:      leaves[index],
				Root:      m.MerkleRoot,
				Proof:     proof,
			}); done {
				return err
			}

			fmt.Printf("Session: %s\n", m.SessionID)
			fmt.Printf("Chunk:   %d of %d\n", index, m.ChunkCount)
			fmt.Printf("Leaf:    %s\n", leaves[index])
			fmt.Printf("Root:    %s\n", m.MerkleRoot)
			fmt.Printf("Path:    %d steps\n", len(proof.Path))
			for i, step := range proof.Path {
				side := "left"
				if step.Right {
					side = "right"
				}
				fmt.Printf("  %2d: %s (%s)\n", i, step.Sibling, side)
			}
			fmt.Printf("\nProof verifies against the manifest root.\n")
			return nil
		},
	}
}
