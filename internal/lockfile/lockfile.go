// Package lockfile keeps two RecruitPipe processes from sharing one state directory.
// SQLite tolerates a single writer, and the outbox sender and inbound poller assume
// they are alone. The lock is an flock on a file in the state directory, so the kernel
// drops it when the process dies.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created in the state directory.
const FileName = "recruitpipe.lock"

// ErrLocked is matched by errors.Is when another process holds the lock.
var ErrLocked = errors.New("state directory is locked by another process")

// Owner describes the process holding a lock. It is written to the lock file as
// key=value lines.
type Owner struct {
	PID     int
	Started time.Time
	Addr    string
}

func (o Owner) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", o.PID)
	fmt.Fprintf(&b, "started=%s\n", o.Started.UTC().Format(time.RFC3339))
	if o.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", o.Addr)
	}
	return b.String()
}

// parseOwner reads the key=value lines of a lock file. Unknown keys are ignored.
func parseOwner(content string) Owner {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch k {
		case "pid":
			o.PID, _ = strconv.Atoi(v)
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, v)
		case "addr":
			o.Addr = v
		}
	}
	return o
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock of stateDir, creating the directory when needed. addr is
// recorded for the error message a second instance prints.
func Acquire(stateDir, addr string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, FileName)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lerr := &LockError{Path: path, Cause: err}
		if data, rerr := os.ReadFile(path); rerr == nil {
			lerr.Owner = parseOwner(string(data))
		}
		slog.Error("lockfile.Acquire: state directory in use", "path", path, "owner_pid", lerr.Owner.PID)
		return nil, lerr
	}

	owner := Owner{PID: os.Getpid(), Started: time.Now(), Addr: addr}
	if err := file.Truncate(0); err == nil {
		_, err = file.WriteAt([]byte(owner.encode()), 0)
		if err != nil {
			slog.Warn("lockfile.Acquire: failed to record owner", "path", path, "error", err)
		}
	}
	slog.Info("lockfile.Acquire: state directory locked", "path", path, "pid", owner.PID)
	return &Lock{file: file, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Lock.Release: failed to remove lock file", "path", l.path, "error", err)
	}
	err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "path", l.path)
	return err
}

// LockError reports a state directory held by another process.
type LockError struct {
	Path  string
	Owner Owner
	Cause error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another RecruitPipe instance is using this state directory (lock file %s)", e.Path)
	if e.Owner.PID > 0 {
		state := "not running, stale lock"
		if processAlive(e.Owner.PID) {
			state = "running"
		}
		fmt.Fprintf(&b, "; owner pid %d (%s)", e.Owner.PID, state)
		if !e.Owner.Started.IsZero() {
			fmt.Fprintf(&b, ", started %s", e.Owner.Started.Format(time.RFC3339))
		}
		if e.Owner.Addr != "" {
			fmt.Fprintf(&b, ", serving %s", e.Owner.Addr)
		}
	}
	return b.String()
}

// Is makes errors.Is(err, ErrLocked) hold.
func (e *LockError) Is(target error) bool {
	return target == ErrLocked
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// processAlive sends signal 0, which checks for existence without delivering anything.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
