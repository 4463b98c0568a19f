package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_AcquireAndRelease(t *testing.T) {
	pf := NewPIDFile(t.TempDir())

	require.NoError(t, pf.Acquire())

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, pf.Release())
	_, err = pf.Read()
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFile_RefusesLiveProcess(t *testing.T) {
	dir := t.TempDir()
	pf := NewPIDFile(dir)

	// Our own pid is definitely alive.
	require.NoError(t, os.WriteFile(pf.Path(), []byte(strconv.Itoa(os.Getpid())), 0o644))

	err := pf.Acquire()
	require.Error(t, err)
	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, CodeDaemonAlreadyRunning, de.Code)
}

func TestPIDFile_OverwritesStale(t *testing.T) {
	pf := NewPIDFile(t.TempDir())

	// Max pid on Linux is bounded well below this.
	require.NoError(t, os.WriteFile(pf.Path(), []byte("999999999"), 0o644))

	require.NoError(t, pf.Acquire())
	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_OverwritesMalformed(t *testing.T) {
	pf := NewPIDFile(t.TempDir())
	require.NoError(t, os.WriteFile(pf.Path(), []byte("not a pid"), 0o644))
	require.NoError(t, pf.Acquire())
}

func TestPIDFile_ReleaseLeavesForeignFile(t *testing.T) {
	pf := NewPIDFile(t.TempDir())
	require.NoError(t, os.WriteFile(pf.Path(), []byte("12345"), 0o644))

	require.NoError(t, pf.Release())
	_, err := os.Stat(pf.Path())
	assert.NoError(t, err)
}

func TestPIDFile_ReleaseMissingIsNoop(t *testing.T) {
	pf := NewPIDFile(filepath.Join(t.TempDir(), "sub"))
	assert.NoError(t, pf.Release())
}
