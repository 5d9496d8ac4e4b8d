package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/driftwatch/driftwatch/internal/logx"
)

const lockFileName = "driftwatch.lock"

var errLockHeld = errors.New("another instance is already running")

// pidAlive reports whether a process with the given pid exists. Signal 0
// performs the existence check without delivering anything.
var pidAlive = func(pid int) bool {
	return !errors.Is(syscall.Kill(pid, 0), syscall.ESRCH)
}

// runLock is an exclusive per-data-dir lock. The file holds "pid runID"; the
// run ID doubles as the history run identifier so dropped locks can be traced
// back to the run that created them.
type runLock struct {
	path  string
	runID string
}

// acquireRunLock takes the lock in dir, stealing it when the recorded owner
// process is gone.
func acquireRunLock(dir string) (*runLock, error) {
	path := filepath.Join(dir, lockFileName)
	id := uuid.NewString()
	content := fmt.Sprintf("%d %s\n", os.Getpid(), id)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if _, werr := f.WriteString(content); werr != nil {
				f.Close()
				os.Remove(path)
				return nil, fmt.Errorf("writing run lock: %w", werr)
			}
			if cerr := f.Close(); cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("writing run lock: %w", cerr)
			}
			return &runLock{path: path, runID: id}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("creating run lock: %w", err)
		}
		owner, ownerID, rerr := readLock(path)
		if rerr == nil && pidAlive(owner) {
			return nil, fmt.Errorf("%w (pid %d, run %s)", errLockHeld, owner, ownerID)
		}
		logx.Warnf("main", "removing stale run lock %s", path)
		if rmerr := os.Remove(path); rmerr != nil && !errors.Is(rmerr, fs.ErrNotExist) {
			return nil, fmt.Errorf("removing stale run lock: %w", rmerr)
		}
	}
	return nil, errLockHeld
}

func readLock(path string) (pid int, runID string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, "", fmt.Errorf("malformed run lock %q", string(data))
	}
	pid, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", fmt.Errorf("malformed run lock pid: %w", err)
	}
	return pid, fields[1], nil
}

func (l *runLock) Release() {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logx.Warnf("main", "removing run lock: %v", err)
	}
}
