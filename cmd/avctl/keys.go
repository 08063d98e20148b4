package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"agentvault/cmd/internal/passphrase"
	"agentvault/crypto"
)

// newPassSource is replaced in tests.
var newPassSource = func(envVar, label string) *passphrase.Source {
	return passphrase.NewSource(envVar, label)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(keygenCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	label := fs.String("label", "signing", "Key role shown in prompts (owner, agent, factory, relayer)")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keystorePath == "" {
		return errors.New("--keystore is required")
	}
	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	pass, err := newPassSource(*passEnv, *label).WithConfirmation().Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, pass); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(out, "Wrote %s\n", *keystorePath)
	printAddress(out, addr)
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(addressCommand, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Keystore file to inspect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *keystorePath == "" {
		return errors.New("--keystore is required")
	}
	addr, err := crypto.KeystoreAddress(*keystorePath)
	if err != nil {
		return err
	}
	printAddress(out, addr)
	return nil
}

func printAddress(out io.Writer, addr crypto.Address) {
	fmt.Fprintf(out, "Address: %s\n", addr.Ledger().Hex())
	fmt.Fprintf(out, "Bech32:  %s\n", addr.String())
}

func loadKey(keystorePath, passEnv string) (*crypto.PrivateKey, error) {
	if keystorePath == "" {
		return nil, errors.New("--keystore is required")
	}
	pass, err := newPassSource(passEnv, "signing").Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(keystorePath, pass)
	if err != nil {
		return nil, fmt.Errorf("unlock keystore: %w", err)
	}
	return key, nil
}
