package txfs

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// entryKind tags a tree node as directory or file.
type entryKind uint8

const (
	kindDirectory entryKind = iota
	kindFile
)

// entry is a named node in the tree. Directories own a name->child
// map; files own a [VersionedFile] and an open flag that must be set
// (via Open) before reads and writes succeed.
type entry struct {
	kind   entryKind
	id     string
	name   string
	parent *entry

	children map[string]*entry // directories
	file     *VersionedFile    // files
	open     bool              // files
}

func (e *entry) isDir() bool {
	return e.kind == kindDirectory
}

// fullPath walks parents up to the root. The root is its own parent
// and renders as "/".
func (e *entry) fullPath() string {
	if e.parent == e {
		return "/"
	}

	var parts []string
	for n := e; n.parent != n; n = n.parent {
		parts = append(parts, n.name)
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}

	return "/" + strings.Join(parts, "/")
}

// isAncestorOf reports whether e lies on other's parent chain.
func (e *entry) isAncestorOf(other *entry) bool {
	for n := other; ; n = n.parent {
		if n.parent == e {
			return true
		}

		if n.parent == n {
			return false
		}
	}
}

// Tree is the directory hierarchy. It guards its own invariants with
// a single mutex; transactional semantics (buffering, locks,
// isolation) live in [System], which is the only mutating caller.
//
// All paths passed to Tree methods are normalized absolute paths.
type Tree struct {
	mu   sync.Mutex
	root *entry
	cwd  *entry
}

func newTree() *Tree {
	root := &entry{
		kind:     kindDirectory,
		id:       uuid.NewString(),
		children: make(map[string]*entry),
	}
	root.parent = root

	return &Tree{root: root, cwd: root}
}

// Pwd returns the current working directory's full path.
func (t *Tree) Pwd() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cwd.fullPath()
}

func (t *Tree) lookupLocked(abs string) (*entry, bool) {
	node := t.root

	for _, part := range pathComponents(abs) {
		if !node.isDir() {
			return nil, false
		}

		child, ok := node.children[part]
		if !ok {
			return nil, false
		}

		node = child
	}

	return node, true
}

func (t *Tree) dirLocked(abs string) (*entry, error) {
	node, ok := t.lookupLocked(abs)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchDirectory, abs)
	}

	if !node.isDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, abs)
	}

	return node, nil
}

func (t *Tree) fileLocked(abs string) (*entry, error) {
	node, ok := t.lookupLocked(abs)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchFile, abs)
	}

	if node.isDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotAFile, abs)
	}

	return node, nil
}

// parentForCreateLocked resolves the parent directory for creating
// abs and validates the base name.
func (t *Tree) parentForCreateLocked(abs string) (*entry, string, error) {
	parentPath, base := splitParent(abs)

	if err := validateName(base); err != nil {
		return nil, "", err
	}

	parent, err := t.dirLocked(parentPath)
	if err != nil {
		return nil, "", err
	}

	if _, taken := parent.children[base]; taken {
		return nil, "", fmt.Errorf("%w: %s", ErrAlreadyExists, abs)
	}

	return parent, base, nil
}

// touch creates a file entry at abs backed by vf. The object is
// created ahead of attachment so a transaction's pre-commit writes
// target the same chain the committed file ends up with.
func (t *Tree) touch(abs string, vf *VersionedFile) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, base, err := t.parentForCreateLocked(abs)
	if err != nil {
		return err
	}

	if vf == nil {
		vf = NewVersionedFile(base)
	}

	parent.children[base] = &entry{
		kind:   kindFile,
		id:     vf.ID(),
		name:   base,
		parent: parent,
		file:   vf,
	}

	return nil
}

// mkdir creates a directory at abs. A non-empty id pins the entry's
// identity (used when the id was already handed out before commit).
func (t *Tree) mkdir(abs, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, base, err := t.parentForCreateLocked(abs)
	if err != nil {
		return err
	}

	if id == "" {
		id = uuid.NewString()
	}

	parent.children[base] = &entry{
		kind:     kindDirectory,
		id:       id,
		name:     base,
		parent:   parent,
		children: make(map[string]*entry),
	}

	return nil
}

// removedEntry is the undo record for remove.
type removedEntry struct {
	node       *entry
	parentPath string
}

// remove detaches the entry at abs. Directories must be empty. The
// detached node is returned so a failed commit can reattach it.
func (t *Tree) remove(abs string) (removedEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.lookupLocked(abs)
	if !ok {
		return removedEntry{}, fmt.Errorf("%w: %s", ErrNoSuchFile, abs)
	}

	if node == t.root {
		return removedEntry{}, fmt.Errorf("%w: cannot remove the root", ErrInvalidPath)
	}

	if node.isDir() && len(node.children) > 0 {
		return removedEntry{}, fmt.Errorf("%w: %s", ErrNotEmpty, abs)
	}

	parent := node.parent
	delete(parent.children, node.name)

	// A removed directory may have been the working directory.
	if node == t.cwd {
		t.cwd = parent
	}

	return removedEntry{node: node, parentPath: parent.fullPath()}, nil
}

// reattach undoes a remove.
func (t *Tree) reattach(rec removedEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, err := t.dirLocked(rec.parentPath)
	if err != nil {
		return err
	}

	if _, taken := parent.children[rec.node.name]; taken {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.node.name)
	}

	rec.node.parent = parent
	parent.children[rec.node.name] = rec.node

	return nil
}

// movedEntry is the undo record for move: moving from back to to
// restores the original layout.
type movedEntry struct {
	from string
	to   string
}

// move atomically re-parents src. When dst names an existing
// directory, src lands inside it under its current name; otherwise
// src is renamed to dst. An ancestor may never move beneath its own
// descendant.
func (t *Tree) move(src, dst string) (movedEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.lookupLocked(src)
	if !ok {
		return movedEntry{}, fmt.Errorf("%w: %s", ErrNoSuchFile, src)
	}

	if node == t.root {
		return movedEntry{}, fmt.Errorf("%w: cannot move the root", ErrInvalidPath)
	}

	var (
		destParent *entry
		newName    string
	)

	if target, exists := t.lookupLocked(dst); exists {
		if !target.isDir() {
			return movedEntry{}, fmt.Errorf("%w: %s", ErrAlreadyExists, dst)
		}

		destParent, newName = target, node.name
	} else {
		parent, base, err := t.parentForCreateLocked(dst)
		if err != nil {
			return movedEntry{}, err
		}

		destParent, newName = parent, base
	}

	if node.isDir() && (node == destParent || node.isAncestorOf(destParent)) {
		return movedEntry{}, fmt.Errorf("%w: cannot move %s beneath itself", ErrInvalidPath, src)
	}

	if _, taken := destParent.children[newName]; taken {
		return movedEntry{}, fmt.Errorf("%w: %s/%s", ErrAlreadyExists, destParent.fullPath(), newName)
	}

	origPath := node.fullPath()

	delete(node.parent.children, node.name)
	node.name = newName
	node.parent = destParent
	destParent.children[newName] = node

	return movedEntry{from: node.fullPath(), to: origPath}, nil
}

// list returns the sorted child names of the directory at abs.
func (t *Tree) list(abs string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dir, err := t.dirLocked(abs)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(dir.children))
	for name := range dir.children {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

// changeDir sets the working directory.
func (t *Tree) changeDir(abs string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	dir, err := t.dirLocked(abs)
	if err != nil {
		return err
	}

	t.cwd = dir

	return nil
}

// openFile marks the file at abs open.
func (t *Tree) openFile(abs string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, err := t.fileLocked(abs)
	if err != nil {
		return err
	}

	node.open = true

	return nil
}

// find returns the full paths of every entry named name, in preorder.
func (t *Tree) find(name string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var results []string

	var walk func(node *entry)
	walk = func(node *entry) {
		if node.name == name {
			results = append(results, node.fullPath())
		}

		if !node.isDir() {
			return
		}

		children := make([]string, 0, len(node.children))
		for child := range node.children {
			children = append(children, child)
		}

		sort.Strings(children)

		for _, child := range children {
			walk(node.children[child])
		}
	}

	walk(t.root)

	return results
}

// files returns every versioned file currently in the tree, used for
// eager snapshot capture at transaction begin.
func (t *Tree) files() []*VersionedFile {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*VersionedFile

	var walk func(node *entry)
	walk = func(node *entry) {
		if !node.isDir() {
			out = append(out, node.file)

			return
		}

		for _, child := range node.children {
			walk(child)
		}
	}

	walk(t.root)

	return out
}

// resolved is a snapshot of an entry's identity used by System to
// acquire locks without holding the tree mutex.
type resolved struct {
	id   string
	dir  bool
	open bool
	file *VersionedFile
}

// resolve looks up abs and reports the entry's identity.
func (t *Tree) resolve(abs string) (resolved, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.lookupLocked(abs)
	if !ok {
		return resolved{}, false
	}

	return resolved{id: node.id, dir: node.isDir(), open: node.open, file: node.file}, true
}
