// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/capstan-io/capstan/cmd/capstan/cli"
	"github.com/capstan-io/capstan/lib/config"
	"github.com/capstan-io/capstan/lib/sealed"
)

// keygenParams holds the parameters for capstan keygen.
type keygenParams struct {
	cli.JSONOutput
	KeysDir string `flag:"keys-dir" desc:"directory for key material (default: paths.keys from config)"`
	Config  string `flag:"config,c" desc:"config file path (default: $CAPSTAN_CONFIG)"`
	Force   bool   `flag:"force"    desc:"replace an existing node identity"`
}

// keygenResult is the JSON output for capstan keygen.
type keygenResult struct {
	PublicKey     string `json:"public_key"`
	IdentityPath  string `json:"identity_path"`
	RecipientPath string `json:"recipient_path"`
}

func keygenCommand() *cli.Command {
	var params keygenParams

	return &cli.Command{
		Name:    "keygen",
		Summary: "Generate the node's age identity",
		Description: `Generate an age x25519 identity for this recording node and write it
to the key directory: the private half to node-identity (mode 0600)
and the public half to node-identity.pub.

The identity is what unseals the master key at service startup.
Replacing it makes every master key sealed to the old identity
unrecoverable unless the key was also sealed to an escrow recipient,
so an existing identity is never overwritten without --force.`,
		Usage: "capstan keygen [flags]",
		Examples: []cli.Example{
			{
				Description: "Generate into the key directory from the config",
				Command:     "capstan keygen --config /etc/capstan/config.yaml",
			},
			{
				Description: "Generate into an explicit directory",
				Command:     "capstan keygen --keys-dir /var/lib/capstan/keys",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("keygen", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}

			keysDir, err := resolveKeysDir(params.KeysDir, params.Config)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(keysDir, 0o700); err != nil {
				return fmt.Errorf("creating key directory: %w", err)
			}

			identityPath := filepath.Join(keysDir, config.IdentityFile)
			recipientPath := filepath.Join(keysDir, config.RecipientFile)

			if _, err := os.Stat(identityPath); err == nil {
				if !params.Force {
					return fmt.Errorf("node identity already exists at %s (replacing it orphans any master key sealed to it; use --force to replace anyway)", identityPath)
				}
				fmt.Fprintf(os.Stderr, "Warning: replacing %s; master keys sealed to the old identity are unrecoverable without an escrow recipient.\n", identityPath)
			}

			keypair, err := sealed.GenerateKeypair()
			if err != nil {
				return err
			}
			defer keypair.Close()

			if err := writeIdentityFile(identityPath, keypair); err != nil {
				return err
			}
			if err := os.WriteFile(recipientPath, []byte(keypair.PublicKey+"\n"), 0o644); err != nil {
				return fmt.Errorf("writing recipient file: %w", err)
			}

			if done, err := params.EmitJSON(keygenResult{
				PublicKey:     keypair.PublicKey,
				IdentityPath:  identityPath,
				RecipientPath: recipientPath,
			}); done {
				return err
			}

			fmt.Fprintf(os.Stderr, "Generated node identity.\n")
			fmt.Fprintf(os.Stderr, "  Public key: %s\n", keypair.PublicKey)
			fmt.Fprintf(os.Stderr, "  Identity:   %s\n", identityPath)
			fmt.Fprintf(os.Stderr, "  Recipient:  %s\n", recipientPath)
			fmt.Fprintf(os.Stderr, "\nSeal the master key to this identity with 'capstan seal-key'.\n")
			return nil
		},
	}
}

// writeIdentityFile writes the private key with 0600 permissions,
// streaming from the guarded buffer so the key never lands on the Go
// heap. The trailing newline is safe: identity loading trims
// surrounding whitespace.
func writeIdentityFile(path string, keypair *sealed.Keypair) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	if _, err := keypair.PrivateKey.WriteTo(file); err != nil {
		file.Close()
		return fmt.Errorf("writing identity file: %w", err)
	}
	if _, err := io.WriteString(file, "\n"); err != nil {
		file.Close()
		return fmt.Errorf("writing identity file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing identity file: %w", err)
	}
	return nil
}
