// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the capstan CLI command tree: key lifecycle
// (keygen, seal-key) and offline recording inspection (verify,
// manifest, proof). Every command works against the on-disk stores
// directly; none of them needs the session service running, and the
// badger-backed commands must not race a running service for the
// store lock.
package commands

import (
	"fmt"

	"github.com/capstan-io/capstan/cmd/capstan/cli"
	"github.com/capstan-io/capstan/lib/version"
)

// Root builds and returns the complete capstan CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "capstan",
		Description: `Capstan: tamper-evident session recording.

Manage the recording node's key material and verify recorded sessions
offline against their sealed manifests and chain anchors.`,
		Subcommands: []*cli.Command{
			keygenCommand(),
			sealKeyCommand(),
			verifyCommand(),
			manifestCommand(),
			proofCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("capstan %s\n", version.Full())
					return nil
				},
			},
		},
	}
}
