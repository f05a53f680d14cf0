package txfs

import (
	"errors"
	"testing"
	"time"
)

// parked reports whether txn is currently waiting on some lock.
func parked(m *LockManager, txn string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.waits[txn]

	return ok
}

// holdCount returns the number of locks txn currently holds.
func holdCount(m *LockManager, txn string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.held[txn])
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatal("condition not reached within deadline")
}

func Test_Acquire_Allows_Multiple_Shared_Holders(t *testing.T) {
	t.Parallel()

	m := NewLockManager()

	for _, txn := range []string{"t1", "t2", "t3"} {
		if err := m.Acquire(txn, "f", LockShared); err != nil {
			t.Fatalf("shared acquire for %s: %v", txn, err)
		}
	}
}

func Test_Acquire_Is_Reentrant(t *testing.T) {
	t.Parallel()

	m := NewLockManager()

	if err := m.Acquire("t1", "f", LockExclusive); err != nil {
		t.Fatal(err)
	}

	// Same mode and weaker mode both succeed immediately.
	if err := m.Acquire("t1", "f", LockExclusive); err != nil {
		t.Fatalf("re-acquiring a held exclusive must succeed; got %v", err)
	}

	if err := m.Acquire("t1", "f", LockShared); err != nil {
		t.Fatalf("shared request while holding exclusive must succeed; got %v", err)
	}
}

func Test_Acquire_Upgrades_Sole_Shared_Holder(t *testing.T) {
	t.Parallel()

	m := NewLockManager()

	if err := m.Acquire("t1", "f", LockShared); err != nil {
		t.Fatal(err)
	}

	if err := m.Acquire("t1", "f", LockExclusive); err != nil {
		t.Fatalf("sole shared holder must upgrade immediately; got %v", err)
	}

	// The upgraded lock excludes other shared requests.
	done := make(chan error, 1)

	go func() {
		done <- m.Acquire("t2", "f", LockShared)
	}()

	waitFor(t, func() bool { return parked(m, "t2") })
	m.Release("t1", "f")

	if err := <-done; err != nil {
		t.Fatalf("shared acquire after release must succeed; got %v", err)
	}
}

func Test_Acquire_Upgrade_Waits_Until_Sole_Holder(t *testing.T) {
	t.Parallel()

	m := NewLockManager()

	if err := m.Acquire("t1", "f", LockShared); err != nil {
		t.Fatal(err)
	}

	if err := m.Acquire("t2", "f", LockShared); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)

	go func() {
		done <- m.Acquire("t1", "f", LockExclusive)
	}()

	waitFor(t, func() bool { return parked(m, "t1") })
	m.Release("t2", "f")

	if err := <-done; err != nil {
		t.Fatalf("upgrade must succeed once sole holder; got %v", err)
	}
}

func Test_Exclusive_Holders_Execute_One_At_A_Time_In_Grant_Order(t *testing.T) {
	t.Parallel()

	m := NewLockManager()

	if err := m.Acquire("t1", "f", LockExclusive); err != nil {
		t.Fatal(err)
	}

	order := make(chan string, 2)

	acquire := func(txn string) {
		if err := m.Acquire(txn, "f", LockExclusive); err != nil {
			t.Error(err)

			return
		}

		order <- txn
	}

	go acquire("t2")
	waitFor(t, func() bool { return parked(m, "t2") })

	go acquire("t3")
	waitFor(t, func() bool { return parked(m, "t3") })

	m.Release("t1", "f")

	if got := <-order; got != "t2" {
		t.Fatalf("first waiter must be granted first; got %s", got)
	}

	m.Release("t2", "f")

	if got := <-order; got != "t3" {
		t.Fatalf("second waiter must be granted second; got %s", got)
	}
}

func Test_Promote_Batches_Compatible_Shared_Waiters(t *testing.T) {
	t.Parallel()

	m := NewLockManager()

	if err := m.Acquire("t1", "f", LockExclusive); err != nil {
		t.Fatal(err)
	}

	granted := make(chan string, 2)

	for _, txn := range []string{"r1", "r2"} {
		txn := txn

		go func() {
			if err := m.Acquire(txn, "f", LockShared); err != nil {
				t.Error(err)

				return
			}

			granted <- txn
		}()

		waitFor(t, func() bool { return parked(m, txn) })
	}

	m.Release("t1", "f")

	got := map[string]bool{<-granted: true, <-granted: true}
	if !got["r1"] || !got["r2"] {
		t.Fatalf("both shared waiters must be granted together; got %v", got)
	}
}

func Test_New_Shared_Request_Queues_Behind_Exclusive_Waiter(t *testing.T) {
	t.Parallel()

	m := NewLockManager()

	if err := m.Acquire("r1", "f", LockShared); err != nil {
		t.Fatal(err)
	}

	writerDone := make(chan error, 1)

	go func() {
		writerDone <- m.Acquire("w", "f", LockExclusive)
	}()

	waitFor(t, func() bool { return parked(m, "w") })

	// A newcomer shared request must not starve the queued writer.
	readerDone := make(chan error, 1)

	go func() {
		readerDone <- m.Acquire("r2", "f", LockShared)
	}()

	waitFor(t, func() bool { return parked(m, "r2") })

	m.Release("r1", "f")

	if err := <-writerDone; err != nil {
		t.Fatalf("queued writer must be granted first; got %v", err)
	}

	m.Release("w", "f")

	if err := <-readerDone; err != nil {
		t.Fatalf("queued reader must be granted after the writer; got %v", err)
	}
}

func Test_Acquire_Detects_Deadlock_Instead_Of_Waiting(t *testing.T) {
	t.Parallel()

	m := NewLockManager()

	if err := m.Acquire("t1", "x", LockExclusive); err != nil {
		t.Fatal(err)
	}

	if err := m.Acquire("t2", "y", LockExclusive); err != nil {
		t.Fatal(err)
	}

	t1Done := make(chan error, 1)

	go func() {
		t1Done <- m.Acquire("t1", "y", LockExclusive)
	}()

	waitFor(t, func() bool { return parked(m, "t1") })

	// t2 -> x would close the cycle t1 -> y -> t2 -> x -> t1.
	if err := m.Acquire("t2", "x", LockExclusive); !errors.Is(err, ErrDeadlock) {
		t.Fatalf("closing the wait-for cycle must return ErrDeadlock; got %v", err)
	}

	// t2 aborts; t1's parked request goes through.
	m.ReleaseAll("t2")

	if err := <-t1Done; err != nil {
		t.Fatalf("t1's request must succeed after t2 releases; got %v", err)
	}
}

func Test_CancelWaits_Wakes_Parked_Waiter_With_ErrLockCancelled(t *testing.T) {
	t.Parallel()

	m := NewLockManager()

	if err := m.Acquire("t1", "f", LockExclusive); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)

	go func() {
		done <- m.Acquire("t2", "f", LockExclusive)
	}()

	waitFor(t, func() bool { return parked(m, "t2") })
	m.CancelWaits("t2")

	if err := <-done; !errors.Is(err, ErrLockCancelled) {
		t.Fatalf("cancelled waiter must return ErrLockCancelled; got %v", err)
	}
}

func Test_CancelWaits_Without_Parked_Waiter_Is_A_NoOp(t *testing.T) {
	t.Parallel()

	m := NewLockManager()
	m.CancelWaits("nobody")
}

func Test_ReleaseAll_Drops_Every_Held_Lock(t *testing.T) {
	t.Parallel()

	m := NewLockManager()

	for _, id := range []string{"a", "b", "c"} {
		if err := m.Acquire("t1", id, LockExclusive); err != nil {
			t.Fatal(err)
		}
	}

	m.ReleaseAll("t1")

	if got := holdCount(m, "t1"); got != 0 {
		t.Fatalf("ReleaseAll must drop every lock; still holding %d", got)
	}

	for _, id := range []string{"a", "b", "c"} {
		if err := m.Acquire("t2", id, LockExclusive); err != nil {
			t.Fatalf("acquire %s after ReleaseAll must succeed; got %v", id, err)
		}
	}
}

func Test_Release_Of_Unheld_Lock_Is_A_NoOp(t *testing.T) {
	t.Parallel()

	m := NewLockManager()
	m.Release("t1", "f")

	if err := m.Acquire("t2", "f", LockExclusive); err != nil {
		t.Fatal(err)
	}

	m.Release("t1", "f")

	// t2's lock is untouched.
	done := make(chan error, 1)

	go func() {
		done <- m.Acquire("t3", "f", LockExclusive)
	}()

	waitFor(t, func() bool { return parked(m, "t3") })
	m.Release("t2", "f")

	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
