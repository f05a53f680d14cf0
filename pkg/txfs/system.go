package txfs

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// System ties the filesystem tree, the lock manager, and the
// transaction table together. It is the unit of isolation for tests:
// construct one per test, there are no package-level singletons
// besides metric registration.
//
// Every operation either carries an explicit transaction id or, with
// an empty id, runs inside an implicit auto-commit transaction that
// commits on success and aborts on failure.
//
// Locking discipline: reads take a short SHARED lock on the file and
// release it as soon as the version is materialized; writes buffer
// lock-free; Commit acquires EXCLUSIVE locks on every touched entry
// in ascending id order, holds them across the whole publish step,
// and releases them when the transaction reaches its terminal state.
// Concurrent SNAPSHOT committers to the same file are therefore
// serialized at commit and follow last-writer-wins on the version
// chain; there is no first-committer-wins detection.
type System struct {
	tree  *Tree
	locks *LockManager

	mu   sync.Mutex
	txns map[string]*transaction

	seq    atomic.Uint64
	logger logrus.FieldLogger
}

// Option configures a System.
type Option func(*System)

// WithLogger routes transaction lifecycle logging to l. The default
// logger discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *System) {
		s.logger = l
	}
}

// NewSystem returns an empty file store.
func NewSystem(opts ...Option) *System {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &System{
		tree:   newTree(),
		locks:  NewLockManager(),
		txns:   make(map[string]*transaction),
		logger: discard,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Begin starts an ACTIVE transaction and returns its id. SNAPSHOT
// transactions capture the current version of every file in the tree
// and pin those files for their lifetime; files created after begin
// stay invisible to them.
func (s *System) Begin(level IsolationLevel) (string, error) {
	if level > Snapshot {
		return "", fmt.Errorf("%w: %d", ErrIsolationUnknown, level)
	}

	txn := &transaction{
		id:          uuid.NewString(),
		isolation:   level,
		state:       TxnActive,
		startSeq:    s.seq.Add(1),
		writes:      make(map[string]string),
		created:     make(map[string]*VersionedFile),
		createdDirs: make(map[string]string),
		removed:     make(map[string]bool),
		retained:    make(map[string]*VersionedFile),
	}

	if level == Snapshot {
		txn.snapshot = make(map[string]int)

		for _, f := range s.tree.files() {
			txn.snapshot[f.ID()] = f.Current()
			txn.retain(f)
		}
	}

	s.mu.Lock()
	s.txns[txn.id] = txn
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"txn":       txn.id,
		"isolation": level.String(),
	}).Debug("transaction started")

	return txn.id, nil
}

// Commit publishes the transaction's buffered operations: EXCLUSIVE
// locks on every touched entry (ascending id order), one version
// appended per buffered write, structural operations applied to the
// tree, locks released, ACTIVE -> COMMITTED.
//
// A failure while applying rolls back the applied prefix; the
// transaction ends ROLLED_BACK and Commit returns the triggering
// error, or ROLLBACK_FAILED with a [RollbackFailedError] when the
// rollback itself fails. A lock failure before anything applied
// ([ErrDeadlock], [ErrLockCancelled]) also ends the transaction.
func (s *System) Commit(txnID string) error {
	s.mu.Lock()

	txn, err := s.activeLocked(txnID)
	if err != nil {
		s.mu.Unlock()

		return err
	}

	txn.committing = true
	s.mu.Unlock()

	// Blocking lock acquisition happens outside the system mutex so
	// concurrent operations and aborts stay possible.
	lockErr := s.acquireAll(txn, LockExclusive, s.commitLockSet(txn)...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if lockErr != nil {
		// Nothing has been applied yet.
		s.finishLocked(txn, s.interruptState(txn, TxnRolledBack))

		return lockErr
	}

	if txn.abortRequested {
		s.finishLocked(txn, TxnAborted)

		return fmt.Errorf("%w: %s aborted during commit", ErrTransactionNotActive, txn.id)
	}

	if err := s.applyLocked(txn); err != nil {
		return err
	}

	s.finishLocked(txn, TxnCommitted)

	return nil
}

// Abort tears down an ACTIVE transaction: the buffer is dropped and
// all locks released; terminal state ABORTED. Abort is safe to call
// from another goroutine while the transaction's owner is parked on a
// lock wait; the waiter wakes with [ErrLockCancelled].
func (s *System) Abort(txnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.txns[txnID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransaction, txnID)
	}

	if txn.state != TxnActive {
		return fmt.Errorf("%w: %s is %s", ErrTransactionNotActive, txnID, txn.state)
	}

	if txn.committing {
		// The committing goroutine owns the teardown; wake it if it
		// is parked on a lock and let it finish as ABORTED.
		txn.abortRequested = true
		s.locks.CancelWaits(txn.id)

		return nil
	}

	s.finishLocked(txn, TxnAborted)

	return nil
}

// Status returns a transaction's observable metadata.
func (s *System) Status(txnID string) (TxnStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn, ok := s.txns[txnID]
	if !ok {
		return TxnStatus{}, fmt.Errorf("%w: %s", ErrUnknownTransaction, txnID)
	}

	return TxnStatus{
		ID:        txn.id,
		Isolation: txn.isolation,
		State:     txn.state,
		StartSeq:  txn.startSeq,
		EndSeq:    txn.endSeq,
	}, nil
}

// Touch creates an empty file at path.
func (s *System) Touch(path, txnID string) error {
	return s.inTxn(txnID, func(txn *transaction) error {
		return s.doTouch(txn, path)
	})
}

// Mkdir creates a directory at path.
func (s *System) Mkdir(path, txnID string) error {
	return s.inTxn(txnID, func(txn *transaction) error {
		return s.doMkdir(txn, path)
	})
}

// Open marks the file at path open. Reads and writes require an open
// file.
func (s *System) Open(path string) error {
	abs, err := normalizePath(s.tree.Pwd(), path)
	if err != nil {
		return err
	}

	return s.tree.openFile(abs)
}

// Read returns the file content selected by the transaction's
// isolation level. The transaction's own buffered writes override the
// isolation-selected base version.
func (s *System) Read(path, txnID string) (string, error) {
	var content string

	err := s.inTxn(txnID, func(txn *transaction) error {
		var err error
		content, err = s.doRead(txn, path)

		return err
	})

	return content, err
}

// Write buffers a new version of the file at path; the version is
// appended on commit.
func (s *System) Write(path, content, txnID string) error {
	return s.inTxn(txnID, func(txn *transaction) error {
		return s.doWrite(txn, path, content)
	})
}

// Remove removes a file or an empty directory.
func (s *System) Remove(path, txnID string) error {
	return s.inTxn(txnID, func(txn *transaction) error {
		return s.doRemove(txn, path)
	})
}

// Move atomically re-parents src. When dst names an existing
// directory, src lands inside it under its current name; otherwise
// src is renamed to dst.
func (s *System) Move(src, dst, txnID string) error {
	return s.inTxn(txnID, func(txn *transaction) error {
		return s.doMove(txn, src, dst)
	})
}

// List returns the sorted names in the directory at path; an empty
// path lists the working directory.
func (s *System) List(path, txnID string) ([]string, error) {
	var names []string

	err := s.inTxn(txnID, func(txn *transaction) error {
		var err error
		names, err = s.doList(txn, path)

		return err
	})

	return names, err
}

// ChangeDir sets the working directory. The working directory is
// shared console state, not transactional: the change applies
// immediately and is not undone by abort.
func (s *System) ChangeDir(path, txnID string) error {
	return s.inTxn(txnID, func(txn *transaction) error {
		abs, err := normalizePath(s.tree.Pwd(), path)
		if err != nil {
			return err
		}

		r, ok := s.tree.resolve(abs)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoSuchDirectory, abs)
		}

		if !r.dir {
			return fmt.Errorf("%w: %s", ErrNotADirectory, abs)
		}

		if err := s.locks.Acquire(txn.id, r.id, LockShared); err != nil {
			return err
		}
		defer s.locks.Release(txn.id, r.id)

		return s.tree.changeDir(abs)
	})
}

// Pwd returns the working directory.
func (s *System) Pwd() string {
	return s.tree.Pwd()
}

// Find returns the full paths of every entry with the given name, in
// preorder.
func (s *System) Find(name string) []string {
	return s.tree.find(name)
}

// inTxn runs fn inside the named transaction, or inside an implicit
// auto-commit transaction when txnID is empty. Auto-commit uses
// SNAPSHOT, the safest level.
func (s *System) inTxn(txnID string, fn func(*transaction) error) error {
	if txnID == "" {
		id, err := s.Begin(Snapshot)
		if err != nil {
			return err
		}

		s.mu.Lock()
		txn := s.txns[id]
		s.mu.Unlock()

		if err := fn(txn); err != nil {
			_ = s.Abort(id)

			return err
		}

		return s.Commit(id)
	}

	s.mu.Lock()

	txn, ok := s.txns[txnID]
	if !ok {
		s.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrUnknownTransaction, txnID)
	}

	if txn.state != TxnActive || txn.committing {
		s.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrTransactionNotActive, txnID)
	}

	s.mu.Unlock()

	return fn(txn)
}

// buffer appends to the transaction's write buffer under the system
// mutex, re-checking that the transaction did not lose a race with a
// concurrent Abort or Commit.
func (s *System) buffer(txn *transaction, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if txn.state != TxnActive || txn.committing {
		return fmt.Errorf("%w: %s", ErrTransactionNotActive, txn.id)
	}

	return fn()
}

// acquireAll takes mode on every id in ascending order. The stable
// order keeps concurrent commits from deadlocking against each other.
func (s *System) acquireAll(txn *transaction, mode LockMode, ids ...string) error {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	for _, id := range sorted {
		if err := s.locks.Acquire(txn.id, id, mode); err != nil {
			return err
		}
	}

	return nil
}

// commitLockSet resolves the entry ids a commit must hold EXCLUSIVE:
// every written file plus the entries and parents touched by
// structural ops. Ids that no longer resolve are skipped; the apply
// step fails on them and rolls back.
func (s *System) commitLockSet(txn *transaction) []string {
	s.mu.Lock()
	ops := slices.Clone(txn.ops)
	s.mu.Unlock()

	var ids []string

	addParent := func(abs string) {
		parentPath, _ := splitParent(abs)
		if r, ok := s.tree.resolve(parentPath); ok {
			ids = append(ids, r.id)
		}
	}

	addEntry := func(abs string) {
		if r, ok := s.tree.resolve(abs); ok {
			ids = append(ids, r.id)
		}
	}

	for _, op := range ops {
		switch op.kind {
		case opWrite:
			ids = append(ids, op.file.ID())
		case opTouch, opMkdir:
			addParent(op.path)
		case opRemove:
			addEntry(op.path)
			addParent(op.path)
		case opMove:
			addEntry(op.path)
			addParent(op.path)
			addEntry(op.dst)
			addParent(op.dst)
		}
	}

	return ids
}

// parentFor resolves the directory that will hold abs, looking
// through the transaction's created-directory overlay first.
func (s *System) parentFor(txn *transaction, abs string) error {
	parentPath, _ := splitParent(abs)

	s.mu.Lock()
	_, ok := txn.createdDirs[parentPath]
	removed := txn.removed[parentPath]
	s.mu.Unlock()

	if ok {
		return nil
	}

	if removed {
		return fmt.Errorf("%w: %s", ErrNoSuchDirectory, parentPath)
	}

	r, found := s.tree.resolve(parentPath)
	if !found {
		return fmt.Errorf("%w: %s", ErrNoSuchDirectory, parentPath)
	}

	if !r.dir {
		return fmt.Errorf("%w: %s", ErrNotADirectory, parentPath)
	}

	return nil
}

// existsForLocked reports whether abs currently resolves for txn,
// looking through the overlay (buffered creations and removals)
// first. Callers must hold s.mu.
func (s *System) existsForLocked(txn *transaction, abs string) bool {
	if txn.removed[abs] {
		return false
	}

	if _, ok := txn.created[abs]; ok {
		return true
	}

	if _, ok := txn.createdDirs[abs]; ok {
		return true
	}

	_, ok := s.tree.resolve(abs)

	return ok
}

func (s *System) doTouch(txn *transaction, path string) error {
	abs, err := normalizePath(s.tree.Pwd(), path)
	if err != nil {
		return err
	}

	_, base := splitParent(abs)
	if err := validateName(base); err != nil {
		return err
	}

	if err := s.parentFor(txn, abs); err != nil {
		return err
	}

	return s.buffer(txn, func() error {
		if s.existsForLocked(txn, abs) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, abs)
		}

		vf := NewVersionedFile(base)
		txn.ops = append(txn.ops, bufferedOp{kind: opTouch, path: abs, file: vf})
		txn.created[abs] = vf
		delete(txn.removed, abs)
		txn.retain(vf)

		return nil
	})
}

func (s *System) doMkdir(txn *transaction, path string) error {
	abs, err := normalizePath(s.tree.Pwd(), path)
	if err != nil {
		return err
	}

	_, base := splitParent(abs)
	if err := validateName(base); err != nil {
		return err
	}

	if err := s.parentFor(txn, abs); err != nil {
		return err
	}

	return s.buffer(txn, func() error {
		if s.existsForLocked(txn, abs) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, abs)
		}

		dirID := uuid.NewString()
		txn.ops = append(txn.ops, bufferedOp{kind: opMkdir, path: abs, dirID: dirID})
		txn.createdDirs[abs] = dirID
		delete(txn.removed, abs)

		return nil
	})
}

func (s *System) doRead(txn *transaction, path string) (string, error) {
	abs, err := normalizePath(s.tree.Pwd(), path)
	if err != nil {
		return "", err
	}

	s.mu.Lock()

	if txn.removed[abs] {
		s.mu.Unlock()

		return "", fmt.Errorf("%w: %s", ErrNoSuchFile, abs)
	}

	if vf, ok := txn.created[abs]; ok {
		// A file created or moved here in this transaction is readable
		// without an Open: it cannot be opened before it is committed.
		content, hasOwn := txn.writes[vf.ID()]
		s.mu.Unlock()

		if hasOwn {
			return content, nil
		}

		if v, captured := txn.snapshot[vf.ID()]; captured {
			return vf.Read(v)
		}

		return vf.Read(vf.Current())
	}

	if _, ok := txn.createdDirs[abs]; ok {
		s.mu.Unlock()

		return "", fmt.Errorf("%w: %s", ErrNotAFile, abs)
	}

	s.mu.Unlock()

	r, ok := s.tree.resolve(abs)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSuchFile, abs)
	}

	if r.dir {
		return "", fmt.Errorf("%w: %s", ErrNotAFile, abs)
	}

	if !r.open {
		return "", fmt.Errorf("%w: %s", ErrNotOpen, abs)
	}

	s.mu.Lock()
	buffered, hasOwn := txn.writes[r.file.ID()]
	s.mu.Unlock()

	if hasOwn {
		return buffered, nil
	}

	// The SHARED lock covers materialization only; it is released as
	// soon as the content is reconstructed so long-lived readers do
	// not starve committers. READ_UNCOMMITTED keeps the original's
	// lock-free read path.
	if txn.isolation != ReadUncommitted {
		if err := s.locks.Acquire(txn.id, r.id, LockShared); err != nil {
			return "", err
		}
		defer s.locks.Release(txn.id, r.id)
	}

	if txn.isolation == Snapshot {
		v, captured := txn.snapshot[r.file.ID()]
		if !captured {
			// Created after this transaction began.
			return "", fmt.Errorf("%w: %s", ErrNoSuchFile, abs)
		}

		return r.file.Read(v)
	}

	return r.file.Read(r.file.Current())
}

func (s *System) doWrite(txn *transaction, path, content string) error {
	abs, err := normalizePath(s.tree.Pwd(), path)
	if err != nil {
		return err
	}

	s.mu.Lock()

	if txn.state != TxnActive || txn.committing {
		s.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrTransactionNotActive, txn.id)
	}

	if txn.removed[abs] {
		s.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrNoSuchFile, abs)
	}

	if vf, ok := txn.created[abs]; ok {
		txn.ops = append(txn.ops, bufferedOp{kind: opWrite, path: abs, content: content, file: vf})
		txn.writes[vf.ID()] = content
		s.mu.Unlock()

		return nil
	}

	if _, ok := txn.createdDirs[abs]; ok {
		s.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrNotAFile, abs)
	}

	s.mu.Unlock()

	r, ok := s.tree.resolve(abs)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchFile, abs)
	}

	if r.dir {
		return fmt.Errorf("%w: %s", ErrNotAFile, abs)
	}

	if !r.open {
		return fmt.Errorf("%w: %s", ErrNotOpen, abs)
	}

	return s.buffer(txn, func() error {
		txn.ops = append(txn.ops, bufferedOp{kind: opWrite, path: abs, content: content, file: r.file})
		txn.writes[r.file.ID()] = content
		txn.retain(r.file)

		return nil
	})
}

func (s *System) doRemove(txn *transaction, path string) error {
	abs, err := normalizePath(s.tree.Pwd(), path)
	if err != nil {
		return err
	}

	s.mu.Lock()

	if txn.state != TxnActive || txn.committing {
		s.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrTransactionNotActive, txn.id)
	}

	if txn.removed[abs] {
		s.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrNoSuchFile, abs)
	}

	// Entries created in this transaction are dropped from the
	// overlay; the buffered create/remove pair replays cleanly.
	if vf, ok := txn.created[abs]; ok {
		txn.ops = append(txn.ops, bufferedOp{kind: opRemove, path: abs})
		delete(txn.created, abs)
		delete(txn.writes, vf.ID())
		txn.removed[abs] = true
		s.mu.Unlock()

		return nil
	}

	if _, ok := txn.createdDirs[abs]; ok {
		txn.ops = append(txn.ops, bufferedOp{kind: opRemove, path: abs})
		delete(txn.createdDirs, abs)
		txn.removed[abs] = true
		s.mu.Unlock()

		return nil
	}

	s.mu.Unlock()

	r, ok := s.tree.resolve(abs)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchFile, abs)
	}

	if r.dir {
		names, err := s.doList(txn, abs)
		if err != nil {
			return err
		}

		if len(names) > 0 {
			return fmt.Errorf("%w: %s", ErrNotEmpty, abs)
		}
	}

	return s.buffer(txn, func() error {
		txn.ops = append(txn.ops, bufferedOp{kind: opRemove, path: abs})
		txn.removed[abs] = true

		return nil
	})
}

func (s *System) doMove(txn *transaction, src, dst string) error {
	absSrc, err := normalizePath(s.tree.Pwd(), src)
	if err != nil {
		return err
	}

	absDst, err := normalizePath(s.tree.Pwd(), dst)
	if err != nil {
		return err
	}

	s.mu.Lock()
	srcRemoved := txn.removed[absSrc]
	s.mu.Unlock()

	if srcRemoved {
		return fmt.Errorf("%w: %s", ErrNoSuchFile, absSrc)
	}

	r, ok := s.tree.resolve(absSrc)
	if !ok {
		// The source may only exist in this transaction's overlay.
		s.mu.Lock()

		if vf, created := txn.created[absSrc]; created {
			r, ok = resolved{id: vf.ID(), file: vf}, true
		} else if id, created := txn.createdDirs[absSrc]; created {
			r, ok = resolved{id: id, dir: true}, true
		}

		s.mu.Unlock()
	}

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchFile, absSrc)
	}

	// Destination analysis mirrors tree.move, looking through the
	// overlay for directories this transaction created; the tree
	// re-validates structurally when the buffered op applies at
	// commit.
	_, srcBase := splitParent(absSrc)
	final := absDst

	s.mu.Lock()
	_, dstCreatedDir := txn.createdDirs[absDst]
	s.mu.Unlock()

	dest, dstInTree := s.tree.resolve(absDst)

	switch {
	case dstCreatedDir || (dstInTree && dest.dir):
		final = absDst + "/" + srcBase
		if absDst == "/" {
			final = "/" + srcBase
		}
	case dstInTree:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, absDst)
	default:
		_, base := splitParent(absDst)
		if err := validateName(base); err != nil {
			return err
		}

		if err := s.parentFor(txn, absDst); err != nil {
			return err
		}
	}

	if r.dir && (final == absSrc || strings.HasPrefix(final, absSrc+"/")) {
		return fmt.Errorf("%w: cannot move %s beneath itself", ErrInvalidPath, absSrc)
	}

	return s.buffer(txn, func() error {
		if s.existsForLocked(txn, final) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, final)
		}

		txn.ops = append(txn.ops, bufferedOp{kind: opMove, path: absSrc, dst: absDst})

		switch {
		case txn.created[absSrc] != nil:
			delete(txn.created, absSrc)
		case txn.createdDirs[absSrc] != "":
			delete(txn.createdDirs, absSrc)
		default:
			txn.removed[absSrc] = true
		}

		if r.dir {
			txn.createdDirs[final] = r.id
		} else {
			txn.created[final] = r.file
		}

		delete(txn.removed, final)

		return nil
	})
}

func (s *System) doList(txn *transaction, path string) ([]string, error) {
	p := path
	if p == "" {
		p = "."
	}

	abs, err := normalizePath(s.tree.Pwd(), p)
	if err != nil {
		return nil, err
	}

	var names []string

	r, ok := s.tree.resolve(abs)

	switch {
	case ok && !r.dir:
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, abs)
	case ok:
		if err := s.locks.Acquire(txn.id, r.id, LockShared); err != nil {
			return nil, err
		}

		names, err = s.tree.list(abs)
		s.locks.Release(txn.id, r.id)

		if err != nil {
			return nil, err
		}
	default:
		s.mu.Lock()
		_, created := txn.createdDirs[abs]
		s.mu.Unlock()

		if !created {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchDirectory, abs)
		}
	}

	// Fold in the transaction's own buffered structure.
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := abs
	if prefix != "/" {
		prefix += "/"
	}

	keep := names[:0]

	for _, name := range names {
		if !txn.removed[prefix+name] {
			keep = append(keep, name)
		}
	}

	names = keep

	for p := range txn.created {
		if parent, base := splitParent(p); parent == abs && !slices.Contains(names, base) {
			names = append(names, base)
		}
	}

	for p := range txn.createdDirs {
		if parent, base := splitParent(p); parent == abs && !slices.Contains(names, base) {
			names = append(names, base)
		}
	}

	slices.Sort(names)

	return names, nil
}

// activeLocked looks up an ACTIVE, non-committing transaction.
// Callers must hold s.mu.
func (s *System) activeLocked(txnID string) (*transaction, error) {
	txn, ok := s.txns[txnID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransaction, txnID)
	}

	if txn.state != TxnActive || txn.committing {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotActive, txnID)
	}

	return txn, nil
}

// interruptState picks the terminal state for a commit interrupted
// before anything was applied: ABORTED when a concurrent Abort caused
// the interruption, fallback otherwise.
func (s *System) interruptState(txn *transaction, fallback TxnState) TxnState {
	if txn.abortRequested {
		return TxnAborted
	}

	return fallback
}

// applyLocked replays the write buffer (commit steps 1-2). On
// failure the applied prefix is rolled back in reverse; the
// transaction ends ROLLED_BACK (returning the triggering error) or
// ROLLBACK_FAILED (returning a [RollbackFailedError]).
func (s *System) applyLocked(txn *transaction) error {
	var undos []func() error

	fail := func(cause error) error {
		for i := len(undos) - 1; i >= 0; i-- {
			if uerr := undos[i](); uerr != nil {
				s.finishLocked(txn, TxnRollbackFailed)

				return &RollbackFailedError{Cause: uerr, Original: cause}
			}
		}

		s.finishLocked(txn, TxnRolledBack)

		return cause
	}

	for _, op := range txn.ops {
		switch op.kind {
		case opWrite:
			prior := op.file.Current()

			if _, err := op.file.AppendVersion(op.content); err != nil {
				return fail(err)
			}

			f := op.file
			undos = append(undos, func() error { return f.RevertTo(prior) })

		case opTouch:
			if err := s.tree.touch(op.path, op.file); err != nil {
				return fail(err)
			}

			p := op.path
			undos = append(undos, func() error {
				_, err := s.tree.remove(p)

				return err
			})

		case opMkdir:
			if err := s.tree.mkdir(op.path, op.dirID); err != nil {
				return fail(err)
			}

			p := op.path
			undos = append(undos, func() error {
				_, err := s.tree.remove(p)

				return err
			})

		case opRemove:
			rec, err := s.tree.remove(op.path)
			if err != nil {
				return fail(err)
			}

			undos = append(undos, func() error { return s.tree.reattach(rec) })

		case opMove:
			rec, err := s.tree.move(op.path, op.dst)
			if err != nil {
				return fail(err)
			}

			undos = append(undos, func() error {
				_, err := s.tree.move(rec.from, rec.to)

				return err
			})
		}
	}

	return nil
}

// finishLocked moves txn into a terminal state, drops its buffer,
// wakes any parked lock wait, and releases every lock and pin.
// Callers must hold s.mu.
func (s *System) finishLocked(txn *transaction, state TxnState) {
	txn.state = state
	txn.committing = false
	txn.endSeq = s.seq.Add(1)

	txn.ops = nil
	txn.writes = nil
	txn.created = nil
	txn.createdDirs = nil
	txn.removed = nil

	// Cancel before releasing: a waiter granted between the two steps
	// would leak its lock.
	s.locks.CancelWaits(txn.id)
	s.locks.ReleaseAll(txn.id)

	for _, f := range txn.retained {
		f.Release()
	}

	txn.retained = nil

	transactionsTotal.WithLabelValues(strings.ToLower(state.String())).Inc()

	s.logger.WithFields(logrus.Fields{
		"txn":   txn.id,
		"state": state.String(),
	}).Debug("transaction finished")
}
