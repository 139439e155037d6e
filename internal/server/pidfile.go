package server

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// PIDFile records the serving process id under the data root so the
// CLI can find and signal a running server.
type PIDFile struct {
	path string
}

// NewPIDFile creates a manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the pidfile location.
func (p *PIDFile) Path() string { return p.path }

// Write records the current process id, creating the directory when
// missing.
func (p *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "creating pidfile directory failed", err)
	}
	data := []byte(strconv.Itoa(os.Getpid()))
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "writing pidfile failed", err)
	}
	return nil
}

// Read returns the recorded pid, or 0 when the file is absent.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, amerrors.New(amerrors.ErrCodeFilePermission, "reading pidfile failed", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, amerrors.New(amerrors.ErrCodeCorruptedData, "pidfile holds no pid", err)
	}
	return pid, nil
}

// Remove deletes the pidfile. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return amerrors.New(amerrors.ErrCodeFilePermission, "removing pidfile failed", err)
	}
	return nil
}

// IsRunning reports whether the recorded process still exists.
func (p *PIDFile) IsRunning() bool {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix FindProcess always succeeds; signal 0 probes existence.
	return proc.Signal(syscall.Signal(0)) == nil
}
