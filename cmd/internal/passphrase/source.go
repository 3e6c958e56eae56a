// Package passphrase resolves the forger keystore passphrase for the node
// binaries.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase. It tries, in order, the
// environment variable, a file named by the environment variable with a
// _FILE suffix, and finally an interactive prompt. The first successful
// result is cached.
type Source struct {
	envVar string
	prompt func() ([]byte, error)

	once  sync.Once
	value string
	err   error
}

// NewSource constructs a passphrase source keyed on envVar.
func NewSource(envVar string) *Source {
	return &Source{envVar: strings.TrimSpace(envVar), prompt: promptTerminal}
}

// Get returns the cached passphrase or resolves it if this is the first call.
// Whitespace-only passphrases are rejected.
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
		if path, ok := os.LookupEnv(s.envVar + "_FILE"); ok {
			raw, err := os.ReadFile(strings.TrimSpace(path))
			if err != nil {
				return "", fmt.Errorf("read %s_FILE: %w", s.envVar, err)
			}
			value := strings.TrimRight(string(raw), "\r\n")
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s_FILE %s is empty", s.envVar, path)
			}
			return value, nil
		}
	}

	raw, err := s.prompt()
	if err != nil {
		if s.envVar != "" {
			return "", fmt.Errorf("forger keystore passphrase required; set %s or run interactively: %w", s.envVar, err)
		}
		return "", err
	}
	if strings.TrimSpace(string(raw)) == "" {
		return "", errors.New("forger keystore passphrase cannot be empty")
	}
	return string(raw), nil
}

func promptTerminal() ([]byte, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("no terminal available")
	}
	fmt.Fprint(os.Stderr, "Enter forger keystore passphrase: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return raw, nil
}
