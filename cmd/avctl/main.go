package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	nodecfg "agentvault/config"
	"agentvault/native/signing"
)

const (
	keygenCommand          = "keygen"
	addressCommand         = "address"
	signInstructionCommand = "sign-instruction"
	signBatchCommand       = "sign-batch"
	verifyCommand          = "verify"

	defaultPassEnv = "AGENTVAULT_KEY_PASS"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case keygenCommand:
		err = runKeygen(os.Args[2:], os.Stdout)
	case addressCommand:
		err = runAddress(os.Args[2:], os.Stdout)
	case signInstructionCommand:
		err = runSign(os.Args[2:], os.Stdout, false)
	case signBatchCommand:
		err = runSign(os.Args[2:], os.Stdout, true)
	case verifyCommand:
		err = runVerify(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: avctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen             Generate a signing key into an encrypted keystore")
	fmt.Fprintln(w, "  address            Print the address held by a keystore")
	fmt.Fprintln(w, "  sign-instruction   Sign one delegated operation for relay")
	fmt.Fprintln(w, "  sign-batch         Sign an atomic batch of operations for relay")
	fmt.Fprintln(w, "  verify             Recover the signer of a relay payload")
}

// domainFlags resolves the signing domain from a node config file or an
// explicit network name.
type domainFlags struct {
	configPath string
	network    string
	verifier   string
}

func (d *domainFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&d.configPath, "config", "", "Node config file supplying NetworkName")
	fs.StringVar(&d.network, "network", "", "Network name (overrides the config file)")
	fs.StringVar(&d.verifier, "verifier", "", "Optional verifier address bound into the domain")
}

func (d *domainFlags) domain() (signing.Domain, error) {
	network := strings.TrimSpace(d.network)
	if network == "" && d.configPath != "" {
		var file struct {
			NetworkName string `toml:"NetworkName"`
		}
		if _, err := toml.DecodeFile(d.configPath, &file); err != nil {
			return signing.Domain{}, fmt.Errorf("failed to read config: %w", err)
		}
		network = strings.TrimSpace(file.NetworkName)
	}
	if network == "" {
		return signing.Domain{}, fmt.Errorf("network name required: pass --network or --config")
	}
	out := signing.Domain{Name: nodecfg.DomainName, Network: network}
	if strings.TrimSpace(d.verifier) != "" {
		addr, err := nodecfg.ParseAddress(d.verifier)
		if err != nil {
			return signing.Domain{}, fmt.Errorf("invalid verifier: %w", err)
		}
		out.Verifier = addr
	}
	return out, nil
}
