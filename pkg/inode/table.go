// Package inode maintains the bidirectional mapping between filesystem
// paths and stable inode numbers.
//
// Inode numbers are allocated from a monotonically increasing counter and
// are never handed out twice during the lifetime of a Table, including
// after the entry that held one is removed. Kernels cache attributes by
// inode number, so reusing one could alias a stale handle to a different
// file.
package inode

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

// Ino is a stable inode number.
type Ino uint64

// RootIno is fixed for the lifetime of the mount.
const RootIno Ino = 1

var (
	ErrNotFound = errors.New("inode not found")
	ErrExists   = errors.New("path already registered with a different node type")
	ErrNotDir   = errors.New("parent is not a directory")
	ErrRoot     = errors.New("root cannot be removed")
	ErrBadName  = errors.New("invalid entry name")
)

// Kind tags what an inode represents.
type Kind int

const (
	KindRoot Kind = iota
	KindFeedDir
	KindArticleFile
	KindSystemDir
	KindConfigFile
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindFeedDir:
		return "feed"
	case KindArticleFile:
		return "article"
	case KindSystemDir:
		return "system"
	case KindConfigFile:
		return "config"
	default:
		return "unknown"
	}
}

// IsDir reports whether nodes of this kind can have children.
func (k Kind) IsDir() bool {
	return k == KindRoot || k == KindFeedDir || k == KindSystemDir
}

// NodeType identifies the object behind an inode.
type NodeType struct {
	Kind Kind

	// FeedID is set for KindFeedDir and KindArticleFile.
	FeedID string

	// ArticleID is set for KindArticleFile.
	ArticleID string

	// File names the pseudo-file for KindConfigFile.
	File string
}

func FeedDir(feedID string) NodeType { return NodeType{Kind: KindFeedDir, FeedID: feedID} }
func ArticleFile(feedID, articleID string) NodeType {
	return NodeType{Kind: KindArticleFile, FeedID: feedID, ArticleID: articleID}
}
func SystemDir() NodeType             { return NodeType{Kind: KindSystemDir} }
func ConfigFile(file string) NodeType { return NodeType{Kind: KindConfigFile, File: file} }

// Entry is an immutable snapshot of a registered inode.
type Entry struct {
	Ino     Ino
	Parent  Ino
	Name    string
	Path    string
	Type    NodeType
	Created time.Time
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Type.Kind.IsDir()
}

type node struct {
	entry    Entry
	children []Ino
	byName   map[string]Ino
}

// Table is the inode registry.
//
// Thread Safety:
// A single RWMutex guards both maps. Register (allocate plus insert) and
// RemoveSubtree each run under the write lock, so readers never observe a
// half-applied change.
type Table struct {
	mu     sync.RWMutex
	next   Ino
	byIno  map[Ino]*node
	byPath map[string]Ino
}

// New returns a Table holding only the root directory.
func New() *Table {
	t := &Table{
		next:   RootIno + 1,
		byIno:  make(map[Ino]*node),
		byPath: make(map[string]Ino),
	}
	t.byIno[RootIno] = &node{
		entry: Entry{
			Ino:     RootIno,
			Parent:  RootIno,
			Name:    "",
			Path:    "/",
			Type:    NodeType{Kind: KindRoot},
			Created: time.Now(),
		},
		byName: make(map[string]Ino),
	}
	t.byPath["/"] = RootIno
	return t
}

// Allocate reserves a fresh inode number without registering anything.
func (t *Table) Allocate() Ino {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocate()
}

// allocate must be called with t.mu held for writing.
func (t *Table) allocate() Ino {
	ino := t.next
	t.next++
	return ino
}

// Register adds p with the given type and returns its inode number.
//
// The parent directory of p must already be registered. Registering a
// path that already exists with the same node type returns the existing
// inode; with a different type it fails with ErrExists.
func (t *Table) Register(p string, typ NodeType) (Ino, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return 0, err
	}
	if clean == "/" {
		return 0, fmt.Errorf("register %q: %w", p, ErrExists)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parentIno, ok := t.byPath[path.Dir(clean)]
	if !ok {
		return 0, fmt.Errorf("register %q: parent: %w", p, ErrNotFound)
	}
	return t.registerLocked(parentIno, path.Base(clean), typ)
}

// RegisterChild adds name under parent.
func (t *Table) RegisterChild(parent Ino, name string, typ NodeType) (Ino, error) {
	if err := validName(name); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registerLocked(parent, name, typ)
}

func (t *Table) registerLocked(parentIno Ino, name string, typ NodeType) (Ino, error) {
	parent, ok := t.byIno[parentIno]
	if !ok {
		return 0, fmt.Errorf("register %q: parent %d: %w", name, parentIno, ErrNotFound)
	}
	if !parent.entry.IsDir() {
		return 0, fmt.Errorf("register %q under %s: %w", name, parent.entry.Path, ErrNotDir)
	}

	if existing, ok := parent.byName[name]; ok {
		if t.byIno[existing].entry.Type == typ {
			return existing, nil
		}
		return 0, fmt.Errorf("register %q under %s: %w", name, parent.entry.Path, ErrExists)
	}

	ino := t.allocate()
	p := path.Join(parent.entry.Path, name)
	n := &node{
		entry: Entry{
			Ino:     ino,
			Parent:  parentIno,
			Name:    name,
			Path:    p,
			Type:    typ,
			Created: time.Now(),
		},
	}
	if typ.Kind.IsDir() {
		n.byName = make(map[string]Ino)
	}

	t.byIno[ino] = n
	t.byPath[p] = ino
	parent.children = append(parent.children, ino)
	parent.byName[name] = ino
	return ino, nil
}

// Lookup returns the entry for ino.
func (t *Table) Lookup(ino Ino) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.byIno[ino]
	if !ok {
		return Entry{}, false
	}
	return n.entry, true
}

// LookupPath returns the entry registered at p.
func (t *Table) LookupPath(p string) (Entry, bool) {
	clean, err := cleanPath(p)
	if err != nil {
		return Entry{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	ino, ok := t.byPath[clean]
	if !ok {
		return Entry{}, false
	}
	return t.byIno[ino].entry, true
}

// LookupChild returns the entry named name directly under parent.
func (t *Table) LookupChild(parent Ino, name string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.byIno[parent]
	if !ok || n.byName == nil {
		return Entry{}, false
	}
	ino, ok := n.byName[name]
	if !ok {
		return Entry{}, false
	}
	return t.byIno[ino].entry, true
}

// Children returns the entries under ino in insertion order. The returned
// slice is a snapshot; later registrations do not affect it.
func (t *Table) Children(ino Ino) ([]Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.byIno[ino]
	if !ok {
		return nil, fmt.Errorf("children of %d: %w", ino, ErrNotFound)
	}
	if !n.entry.IsDir() {
		return nil, fmt.Errorf("children of %s: %w", n.entry.Path, ErrNotDir)
	}

	out := make([]Entry, 0, len(n.children))
	for _, child := range n.children {
		out = append(out, t.byIno[child].entry)
	}
	return out, nil
}

// RemoveSubtree unregisters ino and everything below it, returning the
// removed entries (descendants first, ino last). Their numbers stay
// retired.
func (t *Table) RemoveSubtree(ino Ino) ([]Entry, error) {
	if ino == RootIno {
		return nil, ErrRoot
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.byIno[ino]
	if !ok {
		return nil, fmt.Errorf("remove %d: %w", ino, ErrNotFound)
	}

	var removed []Entry
	t.collect(n, &removed)

	for _, e := range removed {
		delete(t.byIno, e.Ino)
		delete(t.byPath, e.Path)
	}

	if parent, ok := t.byIno[n.entry.Parent]; ok {
		delete(parent.byName, n.entry.Name)
		for i, child := range parent.children {
			if child == ino {
				parent.children = append(parent.children[:i:i], parent.children[i+1:]...)
				break
			}
		}
	}
	return removed, nil
}

// collect appends n's subtree to out in post-order.
func (t *Table) collect(n *node, out *[]Entry) {
	for _, child := range n.children {
		if c, ok := t.byIno[child]; ok {
			t.collect(c, out)
		}
	}
	*out = append(*out, n.entry)
}

// Len returns the number of live entries, root included.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byIno)
}

// NextIno returns the number the next allocation will use.
func (t *Table) NextIno() Ino {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.next
}

func cleanPath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%q: path must be absolute: %w", p, ErrBadName)
	}
	return path.Clean(p), nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return fmt.Errorf("%q: %w", name, ErrBadName)
	}
	return nil
}
