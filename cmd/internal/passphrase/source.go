package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase from an environment variable or
// by prompting the operator. The value is cached after the first successful
// retrieval.
type Source struct {
	envVar  string
	label   string
	confirm bool

	// prompt reads one secret line; tests replace it.
	prompt func(msg string) (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a source that checks envVar before prompting on the
// terminal. label names the key in prompts, e.g. "agent".
func NewSource(envVar, label string) *Source {
	label = strings.TrimSpace(label)
	if label == "" {
		label = "signing"
	}
	return &Source{envVar: strings.TrimSpace(envVar), label: label, prompt: terminalPrompt}
}

// Static returns a source that always yields value.
func Static(value string) *Source {
	s := &Source{}
	s.once.Do(func() { s.value = value })
	return s
}

// WithConfirmation makes interactive prompts ask twice and reject mismatches.
// Used when creating a keystore.
func (s *Source) WithConfirmation() *Source {
	s.confirm = true
	return s
}

// Get returns the cached passphrase or resolves it on first use. An
// environment value is used verbatim; whitespace-only passphrases are
// rejected either way.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	if s.prompt == nil {
		return "", errors.New("keystore passphrase required and no terminal available")
	}

	value, err := s.prompt(fmt.Sprintf("Enter %s keystore passphrase: ", s.label))
	if err != nil {
		if errors.Is(err, errNoTerminal) && s.envVar != "" {
			return "", fmt.Errorf("%s keystore passphrase required; set %s or run interactively", s.label, s.envVar)
		}
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s keystore passphrase cannot be empty", s.label)
	}
	if s.confirm {
		again, err := s.prompt(fmt.Sprintf("Repeat %s keystore passphrase: ", s.label))
		if err != nil {
			return "", err
		}
		if again != value {
			return "", errors.New("passphrases do not match")
		}
	}
	return value, nil
}

var errNoTerminal = errors.New("keystore passphrase required and no terminal available")

func terminalPrompt(msg string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(os.Stderr, msg)
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(raw), nil
}

// ReadFrom builds a prompt function over r for scripted input, one passphrase
// per line.
func ReadFrom(r io.Reader) func(string) (string, error) {
	var mu sync.Mutex
	return func(string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		var b strings.Builder
		buf := make([]byte, 1)
		for {
			n, err := r.Read(buf)
			if n == 1 {
				if buf[0] == '\n' {
					return strings.TrimSuffix(b.String(), "\r"), nil
				}
				b.WriteByte(buf[0])
			}
			if err != nil {
				if errors.Is(err, io.EOF) && b.Len() > 0 {
					return b.String(), nil
				}
				return "", err
			}
		}
	}
}

// WithPrompt replaces the interactive prompt.
func (s *Source) WithPrompt(prompt func(string) (string, error)) *Source {
	s.prompt = prompt
	return s
}
