// Package fs implements the read-only filesystem over the repository.
//
// The tree is:
//
//	/                     root
//	/<feed>/              one directory per configured feed
//	/<feed>/<title>.md    one file per article, registered lazily
//	/.feedfs/             live pseudo-files (config, feeds, stats, logs)
//
// Every operation is synchronous and network-free: content comes from the
// repository's cache or storage, never from a fetch. Article inodes are
// created on first lookup or readdir of their feed directory and removed
// when the repository prunes the article.
package fs

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/pkg/feed"
	"github.com/marmos91/feedfs/pkg/inode"
	"github.com/marmos91/feedfs/pkg/repository"
)

// ContentFunc renders a pseudo-file at read time.
type ContentFunc func() ([]byte, error)

// Options configure the driver.
type Options struct {
	// UID and GID own every inode.
	UID uint32
	GID uint32

	// Files adds or replaces pseudo-files in the meta directory.
	Files map[string]ContentFunc
}

type articleKey struct {
	feedID    string
	articleID string
}

// Driver serves the filesystem contract.
//
// Thread Safety:
// The inode table is internally synchronised. mu serialises article
// registration so collision suffixes are assigned deterministically. syncFeed
// reads the repository's article index while holding mu; the repository
// only notifies listeners after releasing its own lock, so the order
// d.mu then r.mu never inverts.
type Driver struct {
	repo  *repository.Repository
	table *inode.Table
	uid   uint32
	gid   uint32

	metaIno inode.Ino
	files   map[string]ContentFunc

	mu       sync.Mutex
	feeds    map[string]inode.Ino
	articles map[articleKey]inode.Ino

	started time.Time
}

var _ repository.Listener = (*Driver)(nil)

// New builds the tree for the repository's current feeds and subscribes to
// its changes.
func New(repo *repository.Repository, opts Options) (*Driver, error) {
	d := &Driver{
		repo:     repo,
		table:    inode.New(),
		uid:      opts.UID,
		gid:      opts.GID,
		files:    make(map[string]ContentFunc),
		feeds:    make(map[string]inode.Ino),
		articles: make(map[articleKey]inode.Ino),
		started:  time.Now(),
	}

	d.files["feeds.yaml"] = d.renderFeeds
	d.files["stats.yaml"] = d.renderStats
	d.files["logs"] = renderLogs
	for name, fn := range opts.Files {
		d.files[name] = fn
	}

	metaIno, err := d.table.RegisterChild(inode.RootIno, MetaDirName, inode.SystemDir())
	if err != nil {
		return nil, err
	}
	d.metaIno = metaIno

	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := d.table.RegisterChild(metaIno, name, inode.ConfigFile(name)); err != nil {
			return nil, err
		}
	}

	repo.AddListener(d)
	for _, f := range repo.Feeds() {
		d.FeedAdded(f.ID)
	}
	return d, nil
}

// Table exposes the inode table (read-only use).
func (d *Driver) Table() *inode.Table {
	return d.table
}

// ============================================================================
// Repository listener
// ============================================================================

func (d *Driver) FeedAdded(feedID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.feeds[feedID]; ok {
		return
	}
	ino, err := d.table.RegisterChild(inode.RootIno, feedID, inode.FeedDir(feedID))
	if err != nil {
		logger.Error("Cannot register directory for feed %s: %v", feedID, err)
		return
	}
	d.feeds[feedID] = ino
}

func (d *Driver) FeedRemoved(feedID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ino, ok := d.feeds[feedID]
	if !ok {
		return
	}
	delete(d.feeds, feedID)

	removed, err := d.table.RemoveSubtree(ino)
	if err != nil {
		logger.Warn("Cannot remove directory of feed %s: %v", feedID, err)
	}
	for _, e := range removed {
		if e.Type.Kind == inode.KindArticleFile {
			delete(d.articles, articleKey{e.Type.FeedID, e.Type.ArticleID})
		}
	}
}

func (d *Driver) ArticlesRemoved(feedID string, articleIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range articleIDs {
		d.removeArticleLocked(articleKey{feedID, id})
	}
}

func (d *Driver) removeArticleLocked(key articleKey) {
	ino, ok := d.articles[key]
	if !ok {
		return
	}
	delete(d.articles, key)
	if _, err := d.table.RemoveSubtree(ino); err != nil {
		logger.Debug("Article inode %d already gone: %v", ino, err)
	}
}

// syncFeed brings the feed directory's children in line with the
// repository: unseen articles get inodes, vanished ones lose theirs.
//
// The index is read under mu: a snapshot taken outside it could be older
// than one a concurrent sync already applied, and would drop inodes that
// the next sync hands out again under new numbers.
func (d *Driver) syncFeed(feedIno inode.Ino, feedID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	infos, err := d.repo.Articles(feedID)
	if err != nil {
		return err
	}

	live := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		live[info.ID] = struct{}{}
		key := articleKey{feedID, info.ID}
		if _, ok := d.articles[key]; ok {
			continue
		}
		ino, err := d.registerArticleLocked(feedIno, info)
		if err != nil {
			logger.Warn("Cannot register article %s in feed %s: %v", info.ID, feedID, err)
			continue
		}
		d.articles[key] = ino
	}

	for key := range d.articles {
		if key.feedID != feedID {
			continue
		}
		if _, ok := live[key.articleID]; !ok {
			d.removeArticleLocked(key)
		}
	}
	return nil
}

// registerArticleLocked picks the first free name among "<title>.md",
// "<title> (2).md", "<title> (3).md", ...
func (d *Driver) registerArticleLocked(feedIno inode.Ino, info repository.ArticleInfo) (inode.Ino, error) {
	base := info.Filename()
	stem := strings.TrimSuffix(base, feed.FileExtension)
	typ := inode.ArticleFile(info.FeedID, info.ID)

	name := base
	for n := 2; ; n++ {
		existing, taken := d.table.LookupChild(feedIno, name)
		if !taken || existing.Type == typ {
			return d.table.RegisterChild(feedIno, name, typ)
		}
		name = stem + " (" + strconv.Itoa(n) + ")" + feed.FileExtension
	}
}

// ============================================================================
// Read-only contract
// ============================================================================

// Lookup resolves name inside the directory parent.
func (d *Driver) Lookup(ctx context.Context, parent inode.Ino, name string) (Attr, error) {
	dir, ok := d.table.Lookup(parent)
	if !ok {
		return Attr{}, notFound(dir.Type.FeedID)
	}
	if !dir.IsDir() {
		return Attr{}, inode.ErrNotDir
	}
	if dir.Type.Kind == inode.KindFeedDir {
		if err := d.syncFeed(parent, dir.Type.FeedID); err != nil {
			return Attr{}, err
		}
	}

	child, ok := d.table.LookupChild(parent, name)
	if !ok {
		return Attr{}, notFound(dir.Type.FeedID)
	}
	return d.attr(ctx, child)
}

// Getattr returns the attributes of ino.
func (d *Driver) Getattr(ctx context.Context, ino inode.Ino) (Attr, error) {
	e, ok := d.table.Lookup(ino)
	if !ok {
		return Attr{}, notFound("")
	}
	return d.attr(ctx, e)
}

func (d *Driver) attr(ctx context.Context, e inode.Entry) (Attr, error) {
	a := Attr{Ino: e.Ino, UID: d.uid, GID: d.gid}

	switch e.Type.Kind {
	case inode.KindRoot, inode.KindSystemDir:
		a.Mode = DirMode
		a.Size = DirSize
		a.Nlink = 2
		a.Mtime = d.started

	case inode.KindFeedDir:
		a.Mode = DirMode
		a.Size = DirSize
		a.Nlink = 2
		a.Mtime = d.started
		if f, err := d.repo.Feed(e.Type.FeedID); err == nil && !f.LastRefreshed.IsZero() {
			a.Mtime = f.LastRefreshed
		}

	case inode.KindArticleFile:
		info, err := d.repo.Article(e.Type.FeedID, e.Type.ArticleID)
		if err != nil {
			return Attr{}, err
		}
		data, err := d.repo.Content(ctx, e.Type.FeedID, e.Type.ArticleID)
		if err != nil {
			return Attr{}, err
		}
		a.Mode = FileMode
		a.Size = uint64(len(data))
		a.Nlink = 1
		a.Mtime = info.Timestamp()

	case inode.KindConfigFile:
		data, err := d.pseudo(e.Type.File)
		if err != nil {
			return Attr{}, err
		}
		a.Mode = FileMode
		a.Size = uint64(len(data))
		a.Nlink = 1
		a.Mtime = time.Now()
	}

	return a, nil
}

// Readdir lists ino starting after offset. The listing is a snapshot of
// the directory at call time.
func (d *Driver) Readdir(ctx context.Context, ino inode.Ino, offset uint64) ([]DirEntry, error) {
	dir, ok := d.table.Lookup(ino)
	if !ok {
		return nil, notFound("")
	}
	if dir.Type.Kind == inode.KindFeedDir {
		if err := d.syncFeed(ino, dir.Type.FeedID); err != nil {
			return nil, err
		}
	}

	children, err := d.table.Children(ino)
	if err != nil {
		return nil, err
	}
	if offset >= uint64(len(children)) {
		return []DirEntry{}, nil
	}

	out := make([]DirEntry, 0, len(children)-int(offset))
	for i := int(offset); i < len(children); i++ {
		c := children[i]
		mode := FileMode
		if c.IsDir() {
			mode = DirMode
		}
		out = append(out, DirEntry{
			Name:   c.Name,
			Ino:    c.Ino,
			Mode:   mode,
			Offset: uint64(i + 1),
		})
	}
	return out, nil
}

// Open validates an open request. Any write intent is refused.
func (d *Driver) Open(ctx context.Context, ino inode.Ino, flags int) (Handle, error) {
	e, ok := d.table.Lookup(ino)
	if !ok {
		return 0, notFound("")
	}
	if flags&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return 0, errReadOnly
	}
	if e.IsDir() {
		return 0, errIsDir
	}
	return Handle(ino), nil
}

// Read returns content[offset:offset+size] clipped to the content length.
// Out-of-range offsets yield an empty slice, not an error.
func (d *Driver) Read(ctx context.Context, ino inode.Ino, offset int64, size int) ([]byte, error) {
	data, err := d.Content(ctx, ino)
	if err != nil {
		return nil, err
	}
	return clip(data, offset, size), nil
}

// Content returns the full current content of a file inode.
func (d *Driver) Content(ctx context.Context, ino inode.Ino) ([]byte, error) {
	e, ok := d.table.Lookup(ino)
	if !ok {
		return nil, notFound("")
	}

	switch e.Type.Kind {
	case inode.KindArticleFile:
		return d.repo.Content(ctx, e.Type.FeedID, e.Type.ArticleID)
	case inode.KindConfigFile:
		return d.pseudo(e.Type.File)
	default:
		return nil, errIsDir
	}
}

func clip(data []byte, offset int64, size int) []byte {
	if offset < 0 || size <= 0 || offset >= int64(len(data)) {
		return []byte{}
	}
	end := offset + int64(size)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[offset:end]
}

func (d *Driver) pseudo(name string) ([]byte, error) {
	fn, ok := d.files[name]
	if !ok {
		return nil, notFound("")
	}
	return fn()
}

func notFound(feedID string) error {
	return repository.NewError(repository.ErrNotFound, "no such entry", feedID)
}

// ============================================================================
// Mutations (all refused)
// ============================================================================

func (d *Driver) Write(ctx context.Context, ino inode.Ino, offset int64, data []byte) (int, error) {
	return 0, errReadOnly
}

func (d *Driver) Create(ctx context.Context, parent inode.Ino, name string) (Attr, error) {
	return Attr{}, errReadOnly
}

func (d *Driver) Mkdir(ctx context.Context, parent inode.Ino, name string) (Attr, error) {
	return Attr{}, errReadOnly
}

func (d *Driver) Unlink(ctx context.Context, parent inode.Ino, name string) error {
	return errReadOnly
}

func (d *Driver) Rmdir(ctx context.Context, parent inode.Ino, name string) error {
	return errReadOnly
}

func (d *Driver) Rename(ctx context.Context, oldParent inode.Ino, oldName string, newParent inode.Ino, newName string) error {
	return errReadOnly
}

func (d *Driver) Setattr(ctx context.Context, ino inode.Ino) (Attr, error) {
	return Attr{}, errReadOnly
}
