//go:build !windows

package singleton

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureSingleInstance(t *testing.T) {
	dir := t.TempDir()

	first, err := EnsureSingleInstance("screenlog", dir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "screenlog.lock"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	_, err = EnsureSingleInstance("screenlog", dir)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	again, err := EnsureSingleInstance("screenlog", dir)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}
