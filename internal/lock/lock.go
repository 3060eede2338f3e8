// Package lock enforces single-writer access to a session directory. Two
// daemons sharing one message store would race the offline queue and the
// status machine, so the second starter is refused with the holder's pid.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// LockHeldError reports that another process already owns the session.
type LockHeldError struct {
	PID  int
	Path string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("session lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock is an acquired session lock. The flock is held for the lifetime of
// the open file descriptor.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive non-blocking flock on the session's LOCK file,
// creating the directory if needed. When the lock is already held the error
// carries the holder's pid read back from the file.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, fileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		raw, _ := os.ReadFile(path)
		_ = f.Close()
		return nil, &LockHeldError{PID: holderPID(string(raw)), Path: path}
	}

	if err := stampHolder(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes the file. Safe on a nil receiver and
// safe to call twice.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before close so a crashed reader never sees a stale file with
	// a dead pid.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// stampHolder rewrites the lock file with the owning pid and start time,
// for the diagnostics in LockHeldError.
func stampHolder(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nstarted=%s\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func holderPID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(after)
			return pid
		}
	}
	return 0
}
