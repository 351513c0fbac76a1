// Package latch implements the hybrid optimistic/shared/exclusive latch
// used to protect every page (spec §4.1). The word packs a version counter
// together with a single high bit reserved as the write-lock flag, and is
// mutated exclusively through atomic compare-and-swap — the same technique
// bnclabs-gostore/llrb/mvcc.go uses for its tagged snapshot pointer
// (acquiresnapshot/releasesnapshot) and llrb/node.go uses for its bit-packed
// node header (gethdr/sethdr): one atomic word, CAS to mutate, plain atomic
// load to observe.
package latch

import (
	"runtime"
	"sync/atomic"
)

// WriteLockBit is the single high bit of the latch word that marks the
// page as currently exclusively held.
const WriteLockBit uint64 = 1 << 63

// Restart is the typed unwind-and-retry signal raised by a failed
// optimistic validation or a failed upgrade CAS (spec §5, §7). It is never
// wrapped as a Go error; callers recognize it structurally and retry the
// whole operation from the tree root.
type Restart struct {
	Reason string
}

func (r Restart) Error() string { return "restart: " + r.Reason }

// IsRestart reports whether err is a Restart signal.
func IsRestart(err error) bool {
	_, ok := err.(Restart)
	return ok
}

// Latch is a hybrid optimistic/shared/exclusive lock with a version
// counter. Shared mode does not maintain a reader count: readers simply
// confirm the write bit is unset and remember the version they observed,
// the same as an optimistic reader, so shared and optimistic readers freely
// coexist (spec §4.1).
type Latch struct {
	word uint64
}

// Init sets the latch to version 0, unlocked.
func (l *Latch) Init() {
	atomic.StoreUint64(&l.word, 0)
}

// OptimisticRead returns the current word for an optimistic reader to
// remember and later revalidate with Validate.
func (l *Latch) OptimisticRead() uint64 {
	return atomic.LoadUint64(&l.word)
}

// Validate reports whether the latch word is unchanged since observed was
// read, and that no writer currently holds it.
func (l *Latch) Validate(observed uint64) bool {
	return atomic.LoadUint64(&l.word) == observed && (observed&WriteLockBit) == 0
}

// AcquireShared confirms no writer currently holds the latch and returns
// the observed version for later validation, exactly like OptimisticRead
// (spec §4.1: "no dedicated reader count; readers coexist with optimistic
// readers"). It exists as a distinct call for readability at call sites
// that intend pessimistic (shared) semantics.
func (l *Latch) AcquireShared() (uint64, bool) {
	word := atomic.LoadUint64(&l.word)
	if word&WriteLockBit != 0 {
		return 0, false
	}
	return word, true
}

// ReleaseShared is a no-op: shared acquisition never mutated the word. It
// exists so callers can pair Acquire/Release symmetrically.
func (l *Latch) ReleaseShared(uint64) {}

// TryAcquireExclusive attempts to set the write-lock bit via CAS. On
// success it returns the version at which the lock was taken.
func (l *Latch) TryAcquireExclusive() (version uint64, ok bool) {
	for {
		word := atomic.LoadUint64(&l.word)
		if word&WriteLockBit != 0 {
			return 0, false
		}
		if atomic.CompareAndSwapUint64(&l.word, word, word|WriteLockBit) {
			return word, true
		}
		runtime.Gosched()
	}
}

// AcquireExclusive spins until it wins the CAS. Used where the caller
// already holds enough of the tree (e.g. a freshly allocated page) that
// contention is impossible in practice but the call site wants uniform
// latch discipline.
func (l *Latch) AcquireExclusive() uint64 {
	for {
		if version, ok := l.TryAcquireExclusive(); ok {
			return version
		}
		runtime.Gosched()
	}
}

// ReleaseExclusive clears the write-lock bit and bumps the version,
// invalidating any optimistic reader that observed the locked word.
func (l *Latch) ReleaseExclusive() {
	for {
		word := atomic.LoadUint64(&l.word)
		next := (word &^ WriteLockBit) + 1
		if atomic.CompareAndSwapUint64(&l.word, word, next) {
			return
		}
	}
}

// Downgrade releases an exclusive hold and returns the post-release version
// suitable for shared/optimistic use, without bumping past what a plain
// release would produce (spec §4.1: exclusive→shared).
func (l *Latch) Downgrade() uint64 {
	l.ReleaseExclusive()
	return atomic.LoadUint64(&l.word)
}

// TryUpgrade attempts to move from a shared/optimistic observation
// straight to exclusive, without an intervening unlock, by CASing the
// latch to the same version's write-locked equivalent. Fails with false if
// the word has moved on.
func (l *Latch) TryUpgrade(observed uint64) (ok bool) {
	if observed&WriteLockBit != 0 {
		return false
	}
	return atomic.CompareAndSwapUint64(&l.word, observed, observed|WriteLockBit)
}
