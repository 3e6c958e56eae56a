package passphrase

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func noPrompt() ([]byte, error) { return nil, errors.New("no terminal available") }

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("DPOS_TEST_PASS", "from-env")
	s := NewSource("DPOS_TEST_PASS")
	s.prompt = noPrompt

	got, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "from-env", got)
}

func TestSourceReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pass")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	t.Setenv("DPOS_TEST_PASS_FILE", path)
	s := NewSource("DPOS_TEST_PASS")
	s.prompt = noPrompt

	got, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "from-file", got)
}

func TestSourceRejectsBlankValues(t *testing.T) {
	t.Setenv("DPOS_TEST_PASS", "  ")
	s := NewSource("DPOS_TEST_PASS")
	s.prompt = noPrompt
	_, err := s.Get()
	require.ErrorContains(t, err, "set but empty")

	prompted := NewSource("")
	prompted.prompt = func() ([]byte, error) { return []byte(" "), nil }
	_, err = prompted.Get()
	require.ErrorContains(t, err, "cannot be empty")
}

func TestSourceCachesResult(t *testing.T) {
	calls := 0
	s := NewSource("")
	s.prompt = func() ([]byte, error) {
		calls++
		return []byte("typed"), nil
	}
	for i := 0; i < 3; i++ {
		got, err := s.Get()
		require.NoError(t, err)
		require.Equal(t, "typed", got)
	}
	require.Equal(t, 1, calls)
}

func TestSourceWithoutTerminal(t *testing.T) {
	s := NewSource("DPOS_TEST_UNSET_PASS")
	s.prompt = noPrompt
	_, err := s.Get()
	require.ErrorContains(t, err, "DPOS_TEST_UNSET_PASS")
}
