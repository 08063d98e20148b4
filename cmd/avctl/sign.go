package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	nodecfg "agentvault/config"
	"agentvault/native/signing"
	"agentvault/native/wallet"
)

// stdin is replaced in tests.
var stdin io.Reader = os.Stdin

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func runSign(args []string, out io.Writer, batch bool) error {
	name := signInstructionCommand
	if batch {
		name = signBatchCommand
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	keystorePath := fs.String("keystore", "", "Agent keystore used to sign")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	account := fs.String("account", "", "Account the operations run against")
	opsPath := fs.String("ops", "-", "JSON operation envelope (or array for sign-batch); - reads stdin")
	expiration := fs.Uint64("expiration", 0, "Last ledger tick at which the payload is valid")
	nonce := fs.Uint64("nonce", 0, "Nonce distinguishing identical payloads (default: current unix nanoseconds)")
	var dom domainFlags
	dom.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	domain, err := dom.domain()
	if err != nil {
		return err
	}
	acct, err := nodecfg.ParseAddress(*account)
	if err != nil || acct.IsZero() {
		return fmt.Errorf("invalid --account %q", *account)
	}
	if *expiration == 0 {
		return errors.New("--expiration is required")
	}
	n := *nonce
	if n == 0 {
		n = uint64(time.Now().UnixNano())
	}
	raw, err := readInput(*opsPath)
	if err != nil {
		return fmt.Errorf("read operations: %w", err)
	}
	key, err := loadKey(*keystorePath, *passEnv)
	if err != nil {
		return err
	}

	var payload any
	if batch {
		var envs []wallet.Envelope
		if err := json.Unmarshal(raw, &envs); err != nil {
			return fmt.Errorf("decode operations: %w", err)
		}
		ops := make([]wallet.Operation, 0, len(envs))
		for i, env := range envs {
			op, err := wallet.DecodeOperation(env)
			if err != nil {
				return fmt.Errorf("operation %d: %w", i, err)
			}
			ops = append(ops, op)
		}
		signed, err := wallet.SignBatch(domain, wallet.BatchInstruction{
			Account: acct, Operations: ops, Expiration: *expiration, Nonce: n,
		}, key.PrivateKey)
		if err != nil {
			return err
		}
		if payload, err = wallet.MarshalBatch(signed); err != nil {
			return err
		}
	} else {
		var env wallet.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode operation: %w", err)
		}
		op, err := wallet.DecodeOperation(env)
		if err != nil {
			return err
		}
		signed, err := wallet.SignInstruction(domain, wallet.Instruction{
			Account: acct, Operation: op, Expiration: *expiration, Nonce: n,
		}, key.PrivateKey)
		if err != nil {
			return err
		}
		if payload, err = wallet.MarshalInstruction(signed); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func runVerify(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(verifyCommand, flag.ContinueOnError)
	payloadPath := fs.String("payload", "-", "Signed relay payload; - reads stdin")
	batch := fs.Bool("batch", false, "Payload is a signed batch")
	var dom domainFlags
	dom.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	domain, err := dom.domain()
	if err != nil {
		return err
	}
	raw, err := readInput(*payloadPath)
	if err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	var (
		digest    [32]byte
		signature []byte
	)
	if *batch {
		var wire wallet.BatchJSON
		if err := json.Unmarshal(raw, &wire); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		signed, err := wire.Unmarshal()
		if err != nil {
			return err
		}
		if digest, err = wallet.BatchDigest(domain, signed.BatchInstruction); err != nil {
			return err
		}
		signature = signed.Signature
	} else {
		var wire wallet.InstructionJSON
		if err := json.Unmarshal(raw, &wire); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		signed, err := wire.Unmarshal()
		if err != nil {
			return err
		}
		if digest, err = wallet.InstructionDigest(domain, signed.Instruction); err != nil {
			return err
		}
		signature = signed.Signature
	}
	signer, err := signing.RecoverSigner(digest, signature)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Digest: %s\n", hexutil.Encode(digest[:]))
	fmt.Fprintf(out, "Signer: %s\n", signer.Hex())
	return nil
}
