package storage

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"
)

// lockPoll is how often a contended state lock is retried.
const lockPoll = 25 * time.Millisecond

// stateLock is an exclusive advisory lock on "<state>.lock". The holder's
// PID is written into the file so a second run can name who holds it; the
// file itself outlives every holder.
type stateLock struct {
	path string
	file *os.File
}

// acquireLock takes the lock for statePath, polling until timeout.
func acquireLock(statePath string, timeout time.Duration) (*stateLock, error) {
	path := statePath + ".lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, &StorageError{Op: "lock", Path: statePath, Err: err}
	}

	deadline := time.Now().Add(timeout)
	for tryLock(f) != nil {
		if !time.Now().Before(deadline) {
			f.Close()
			return nil, &StorageError{Op: "lock", Path: statePath, Err: holderError(path)}
		}
		time.Sleep(lockPoll)
	}

	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &stateLock{path: path, file: f}, nil
}

// holderError wraps ErrLockTimeout with the PID recorded in the lock file,
// when one can be read.
func holderError(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrLockTimeout
	}
	pid, err := strconv.Atoi(string(bytes.TrimSpace(data)))
	if err != nil || pid <= 0 {
		return ErrLockTimeout
	}
	return fmt.Errorf("%w (held by pid %d)", ErrLockTimeout, pid)
}

// release clears the recorded PID and unlocks. The lock file stays in
// place so that waiters and later runs all lock the same inode. Safe to
// call on nil.
func (l *stateLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.file.Truncate(0)
	unlock(l.file)
	err := l.file.Close()
	l.file = nil
	return err
}
