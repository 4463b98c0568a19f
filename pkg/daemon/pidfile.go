package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFileName is the pid file's name inside the data directory.
const PIDFileName = "daemon.pid"

// PIDFile guards single-instance startup via an ASCII pid file in the
// data directory.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PIDFile handle for the given data directory.
func NewPIDFile(dataDir string) *PIDFile {
	return &PIDFile{path: filepath.Join(dataDir, PIDFileName)}
}

// Path returns the pid file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Acquire claims the pid file for this process. When the file exists
// and names a live process, startup is refused with AlreadyRunning;
// a stale file from a dead process is overwritten.
func (p *PIDFile) Acquire() error {
	if pid, err := p.Read(); err == nil {
		if processAlive(pid) {
			return NewError(CodeDaemonAlreadyRunning,
				fmt.Sprintf("daemon already running with pid %d", pid))
		}
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return WrapError(CodeGeneral, "failed to create data directory", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return WrapError(CodeGeneral, "failed to write pid file", err)
	}
	return nil
}

// Read returns the pid recorded in the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", p.path, err)
	}
	return pid, nil
}

// Release removes the pid file, but only when it still belongs to
// this process.
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if pid != os.Getpid() {
		return nil
	}
	return os.Remove(p.path)
}

// processAlive reports whether a pid names a live process. Signal 0
// probes without delivering anything; EPERM still means alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
