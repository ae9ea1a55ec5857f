// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the capstan CLI: a small
// command tree with pflag flag sets, struct-tag flag binding, help
// generation, and typo suggestions for commands and flags.
//
// Commands declare their parameters as a tagged struct and bind it
// with [FlagsFromParams]:
//
//	type keygenParams struct {
//	    cli.JSONOutput
//	    KeysDir string `flag:"keys-dir" desc:"key directory"`
//	}
//
// The [JSONOutput] embed adds the --json flag so command output is
// scriptable without per-command plumbing.
package cli
