package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	lockFileSuffix = ".lock"
	pidFileSuffix  = ".pid"
)

// LeaderLock elects a single process to run the background scheduler.
// The flock only guards the check-and-claim of the pid file; the pid file
// itself records the owner so a crashed owner can be detected and replaced.
type LeaderLock struct {
	lock    *flock.Flock
	pidPath string
	pid     int
	held    bool

	// alive reports whether pid is a running process. Swappable in tests.
	alive func(pid int) bool
}

// NewLeaderLock creates a lock named name inside dir.
func NewLeaderLock(dir, name string) (*LeaderLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create lock dir: %w", err)
	}
	base := filepath.Join(dir, name)
	return &LeaderLock{
		lock:    flock.New(base + lockFileSuffix),
		pidPath: base + pidFileSuffix,
		pid:     os.Getpid(),
		alive:   pidAlive,
	}, nil
}

// TryAcquire returns true if this process is (now) the leader.
// A pid file naming a dead process, or one that cannot be parsed, is treated
// as unowned and reclaimed.
func (l *LeaderLock) TryAcquire() (bool, error) {
	if err := l.lock.Lock(); err != nil {
		return false, fmt.Errorf("failed to acquire lock on %s: %w", l.lock.Path(), err)
	}
	defer l.lock.Unlock()

	owner, err := l.readOwner()
	switch {
	case err == nil && owner == l.pid:
		l.held = true
		return true, nil
	case err == nil && l.alive(owner):
		Log.Infof("Scheduler already running in PID %d", owner)
		return false, nil
	case err == nil:
		Log.Infof("Removing stale scheduler lock (PID %d is dead)", owner)
	case !os.IsNotExist(err):
		Log.Warnf("Removing invalid scheduler lock file: %v", err)
	}

	if err := os.WriteFile(l.pidPath, []byte(strconv.Itoa(l.pid)), 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", l.pidPath, err)
	}
	l.held = true
	return true, nil
}

// Release removes the pid file if this process still owns it.
func (l *LeaderLock) Release() error {
	if !l.held {
		return nil
	}
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.lock.Path(), err)
	}
	defer l.lock.Unlock()

	l.held = false
	owner, err := l.readOwner()
	if err != nil || owner != l.pid {
		return nil
	}
	if err := os.Remove(l.pidPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (l *LeaderLock) readOwner() (int, error) {
	b, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("bad pid %q", strings.TrimSpace(string(b)))
	}
	return pid, nil
}

func pidAlive(pid int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	return err == nil && ok
}
