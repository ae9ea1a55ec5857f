// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/capstan-io/capstan/cmd/capstan/cli"
	"github.com/capstan-io/capstan/lib/config"
	"github.com/capstan-io/capstan/lib/seal"
	"github.com/capstan-io/capstan/lib/sealed"
	"github.com/capstan-io/capstan/lib/secret"
)

// sealKeyParams holds the parameters for capstan seal-key.
type sealKeyParams struct {
	cli.JSONOutput
	KeysDir   string   `flag:"keys-dir"  desc:"directory for key material (default: paths.keys from config)"`
	Config    string   `flag:"config,c"  desc:"config file path (default: $CAPSTAN_CONFIG)"`
	Recipient []string `flag:"recipient" desc:"additional age public key to seal to (repeatable; escrow recovery)"`
	Generate  bool     `flag:"generate"  desc:"generate a fresh random master key"`
	FromFile  string   `flag:"from-file" desc:"read the master key as hex from a file ('-' for stdin)"`
	Force     bool     `flag:"force"     desc:"replace an existing sealed master key"`
}

// sealKeyResult is the JSON output for capstan seal-key.
type sealKeyResult struct {
	SealedPath string   `json:"sealed_path"`
	Recipients []string `json:"recipients"`
	Generated  bool     `json:"generated"`
}

func sealKeyCommand() *cli.Command {
	var params sealKeyParams

	return &cli.Command{
		Name:    "seal-key",
		Summary: "Seal the master key to the node identity",
		Description: `Seal the 32-byte master secret to the node's age identity and write
the sealed payload to master-key.age in the key directory. The
service unseals it at startup; the plaintext never touches disk.

The master key comes from one of three sources: --generate draws a
fresh random key, --from-file reads a hex-encoded key from a file
(or stdin with '-'), and with neither flag the key is prompted for
interactively with echo disabled.

The key is always sealed to the node's own public key
(node-identity.pub). Pass --recipient to also seal it to an operator
escrow key, so losing the node identity does not orphan every
session recorded under this master key.`,
		Usage: "capstan seal-key [flags]",
		Examples: []cli.Example{
			{
				Description: "Generate and seal a fresh master key with an escrow recipient",
				Command:     "capstan seal-key --generate --recipient age1escrow...",
			},
			{
				Description: "Seal a key restored from a hex backup",
				Command:     "capstan seal-key --from-file ./master-key.hex --keys-dir /var/lib/capstan/keys",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("seal-key", &params)
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			if params.Generate && params.FromFile != "" {
				return fmt.Errorf("--generate and --from-file are mutually exclusive")
			}

			keysDir, err := resolveKeysDir(params.KeysDir, params.Config)
			if err != nil {
				return err
			}
			masterPath := filepath.Join(keysDir, config.MasterKeyFile)
			if _, err := os.Stat(masterPath); err == nil && !params.Force {
				return fmt.Errorf("sealed master key already exists at %s (use --force to replace)", masterPath)
			}

			recipients, err := loadRecipients(keysDir, params.Recipient)
			if err != nil {
				return err
			}

			master, err := readMasterKey(params)
			if err != nil {
				return err
			}
			defer secret.Zero(master)

			if err := sealed.SealToFile(masterPath, master, recipients); err != nil {
				return err
			}

			if done, err := params.EmitJSON(sealKeyResult{
				SealedPath: masterPath,
				Recipients: recipients,
				Generated:  params.Generate,
			}); done {
				return err
			}

			fmt.Fprintf(os.Stderr, "Sealed master key to %s\n", masterPath)
			fmt.Fprintf(os.Stderr, "  Recipients: %s\n", strings.Join(recipients, ", "))
			if params.Generate && len(recipients) == 1 {
				fmt.Fprintf(os.Stderr, "\nThe key exists only inside the sealed file. Consider sealing to an\nescrow recipient as well (--recipient), so losing the node identity\ndoes not orphan every session recorded under this key.\n")
			}
			return nil
		},
	}
}

// loadRecipients returns the node's own public key plus any extra
// recipients, all validated.
func loadRecipients(keysDir string, extra []string) ([]string, error) {
	recipientPath := filepath.Join(keysDir, config.RecipientFile)
	data, err := os.ReadFile(recipientPath)
	if err != nil {
		return nil, fmt.Errorf("reading node recipient (run 'capstan keygen' first): %w", err)
	}
	nodeKey := strings.TrimSpace(string(data))
	if err := sealed.ParsePublicKey(nodeKey); err != nil {
		return nil, fmt.Errorf("node recipient %s: %w", recipientPath, err)
	}

	recipients := []string{nodeKey}
	for _, key := range extra {
		if err := sealed.ParsePublicKey(key); err != nil {
			return nil, err
		}
		recipients = append(recipients, key)
	}
	return recipients, nil
}

// readMasterKey obtains the 32-byte master key from the source the
// flags select. The caller must zero the returned slice.
func readMasterKey(params sealKeyParams) ([]byte, error) {
	switch {
	case params.Generate:
		master := make([]byte, seal.KeySize)
		if _, err := rand.Read(master); err != nil {
			return nil, fmt.Errorf("generating master key: %w", err)
		}
		return master, nil

	case params.FromFile != "":
		buffer, err := secret.ReadFromPath(params.FromFile)
		if err != nil {
			return nil, fmt.Errorf("reading master key: %w", err)
		}
		defer buffer.Close()
		return decodeMasterKeyHex(buffer.Bytes())

	default:
		return promptMasterKeyHex()
	}
}

// promptMasterKeyHex reads a hex-encoded master key from stdin. On a
// terminal it prompts with echo disabled and asks for confirmation;
// with piped input it reads one line without prompting.
func promptMasterKeyHex() ([]byte, error) {
	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		buffer, err := secret.ReadFromPath("-")
		if err != nil {
			return nil, fmt.Errorf("reading master key from stdin: %w", err)
		}
		defer buffer.Close()
		return decodeMasterKeyHex(buffer.Bytes())
	}

	fmt.Fprint(os.Stderr, "Master key (hex): ")
	first, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading master key: %w", err)
	}

	fmt.Fprint(os.Stderr, "Confirm master key: ")
	second, err := term.ReadPassword(stdinFd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		secret.Zero(first)
		return nil, fmt.Errorf("reading master key confirmation: %w", err)
	}

	match := len(first) == len(second)
	if match {
		for index := range first {
			if first[index] != second[index] {
				match = false
				break
			}
		}
	}
	secret.Zero(second)

	if !match {
		secret.Zero(first)
		return nil, fmt.Errorf("master keys do not match")
	}

	master, err := decodeMasterKeyHex(first)
	secret.Zero(first)
	return master, err
}

// decodeMasterKeyHex decodes a hex master key and enforces the exact
// key size.
func decodeMasterKeyHex(hexKey []byte) ([]byte, error) {
	master := make([]byte, hex.DecodedLen(len(hexKey)))
	n, err := hex.Decode(master, hexKey)
	if err != nil {
		secret.Zero(master)
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if n != seal.KeySize {
		secret.Zero(master)
		return nil, fmt.Errorf("master key must be %d bytes (%d hex characters), got %d bytes", seal.KeySize, seal.KeySize*2, n)
	}
	return master[:n], nil
}
