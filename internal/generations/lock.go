package generations

import (
	"context"
	"fmt"
	"sync"
)

// nextGenLock is the counting primitive spec.md §4.6/§5 describes for the
// next-generation lock: many holders may put concurrently into the open
// generation; a commit waits until the holder count drops to zero and, once
// waiting, blocks new holders from being admitted until it finishes. Per
// spec.md §9's design note, this is deliberately its own primitive rather
// than a standard sync.RWMutex, because admission and commit have opposite
// polarity from a reader/writer lock (many concurrent "writers" i.e. put
// holders are the normal case; the "reader" i.e. commit is the exclusive,
// rare operation) and because a holder can tag its release with a
// needs-reschedule flag a plain mutex has nowhere to carry.
type nextGenLock struct {
	mu               sync.Mutex
	holders          int
	commitInProgress bool
	needsReschedule  bool
	admitWaiters     []chan struct{}
	commitWaiters    []chan struct{}
}

func newNextGenLock() *nextGenLock {
	return &nextGenLock{}
}

// Acquire blocks only while a commit is in progress, then increments the
// holder count. Cancelling ctx while waiting is safe: the holder count is
// only ever incremented once Acquire is about to succeed (spec.md §5's
// "cancellation of a waiter is safe").
func (l *nextGenLock) Acquire(ctx context.Context) (release func(needsReschedule bool), err error) {
	l.mu.Lock()
	if !l.commitInProgress {
		l.holders++
		l.mu.Unlock()
		return l.releaseFunc(), nil
	}
	wait := make(chan struct{})
	l.admitWaiters = append(l.admitWaiters, wait)
	l.mu.Unlock()

	select {
	case <-wait:
		l.mu.Lock()
		l.holders++
		l.mu.Unlock()
		return l.releaseFunc(), nil
	case <-ctx.Done():
		l.mu.Lock()
		l.removeAdmitWaiter(wait)
		l.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (l *nextGenLock) releaseFunc() func(bool) {
	released := false
	return func(needsReschedule bool) {
		l.mu.Lock()
		if released {
			l.mu.Unlock()
			return
		}
		released = true
		l.holders--
		if needsReschedule {
			l.needsReschedule = true
		}
		var wake chan struct{}
		if l.holders == 0 && len(l.commitWaiters) > 0 {
			wake = l.commitWaiters[0]
			l.commitWaiters = l.commitWaiters[1:]
		}
		l.mu.Unlock()
		if wake != nil {
			close(wake)
		}
	}
}

func (l *nextGenLock) removeAdmitWaiter(target chan struct{}) {
	for i, w := range l.admitWaiters {
		if w == target {
			l.admitWaiters = append(l.admitWaiters[:i], l.admitWaiters[i+1:]...)
			return
		}
	}
}

func (l *nextGenLock) removeCommitWaiter(target chan struct{}) {
	for i, w := range l.commitWaiters {
		if w == target {
			l.commitWaiters = append(l.commitWaiters[:i], l.commitWaiters[i+1:]...)
			return
		}
	}
}

// BeginCommit marks a commit as in progress (blocking further Acquire
// admission) and waits until every already-admitted holder has released.
// Only one commit may be in flight at a time; a second concurrent call
// returns an error rather than queueing, since the generations coordinator
// only ever issues one commit per collection at a time itself.
func (l *nextGenLock) BeginCommit(ctx context.Context) error {
	l.mu.Lock()
	if l.commitInProgress {
		l.mu.Unlock()
		return fmt.Errorf("generations: commit already in progress for this collection")
	}
	l.commitInProgress = true
	if l.holders == 0 {
		l.mu.Unlock()
		return nil
	}
	wait := make(chan struct{})
	l.commitWaiters = append(l.commitWaiters, wait)
	l.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.removeCommitWaiter(wait)
		l.commitInProgress = false
		l.mu.Unlock()
		return ctx.Err()
	}
}

// EndCommit releases the commit-in-progress flag, admits any holders that
// queued up while it was held, and returns whether a release during the
// commit window asked for the next auto-commit to be (re)scheduled.
func (l *nextGenLock) EndCommit() (needsReschedule bool) {
	l.mu.Lock()
	needsReschedule = l.needsReschedule
	l.needsReschedule = false
	l.commitInProgress = false
	waiters := l.admitWaiters
	l.admitWaiters = nil
	l.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return needsReschedule
}
