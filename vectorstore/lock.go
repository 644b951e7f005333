// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/poiesic/ragindex/core"
)

const lockRetryDelay = 25 * time.Millisecond

// fileLock coordinates access to the index directory across processes.
// Goroutines of one process share a single shared lock through a reader
// count, since the OS lock is held per file handle rather than per caller.
type fileLock struct {
	mu      sync.RWMutex
	readMu  sync.Mutex
	readers int
	flock   *flock.Flock
	timeout time.Duration
}

func newFileLock(path string, timeout time.Duration) *fileLock {
	return &fileLock{
		flock:   flock.New(path),
		timeout: timeout,
	}
}

// lock takes the exclusive lock.
func (l *fileLock) lock(ctx context.Context) error {
	l.mu.Lock()
	if err := l.acquire(ctx, l.flock.TryLockContext); err != nil {
		l.mu.Unlock()
		return err
	}
	return nil
}

func (l *fileLock) unlock() error {
	defer l.mu.Unlock()
	return l.flock.Unlock()
}

// rlock takes the shared lock.
func (l *fileLock) rlock(ctx context.Context) error {
	l.mu.RLock()

	l.readMu.Lock()
	defer l.readMu.Unlock()
	if l.readers == 0 {
		if err := l.acquire(ctx, l.flock.TryRLockContext); err != nil {
			l.mu.RUnlock()
			return err
		}
	}
	l.readers++
	return nil
}

func (l *fileLock) runlock() error {
	defer l.mu.RUnlock()

	l.readMu.Lock()
	defer l.readMu.Unlock()
	l.readers--
	if l.readers == 0 {
		return l.flock.Unlock()
	}
	return nil
}

func (l *fileLock) acquire(ctx context.Context, try func(context.Context, time.Duration) (bool, error)) error {
	lockCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ok, err := try(lockCtx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: waited %s for %s", core.ErrLockTimeout, l.timeout, l.flock.Path())
		}
		return fmt.Errorf("lock %s: %w", l.flock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("%w: waited %s for %s", core.ErrLockTimeout, l.timeout, l.flock.Path())
	}
	return nil
}
