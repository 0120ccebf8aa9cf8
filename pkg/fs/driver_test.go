package fs

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/marmos91/feedfs/pkg/feed"
	"github.com/marmos91/feedfs/pkg/inode"
	"github.com/marmos91/feedfs/pkg/repository"
	"github.com/marmos91/feedfs/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fixture struct {
	repo   *repository.Repository
	driver *Driver
	ctx    context.Context
}

func newFixture(t *testing.T, cfg repository.Config, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()

	repo := repository.New(cfg, memory.New(), nil, nil, nil)
	require.NoError(t, repo.SetFeeds(ctx, []feed.Spec{
		{Name: "demo", URL: "https://example.com/feed.xml", Enabled: true},
	}))

	d, err := New(repo, opts)
	require.NoError(t, err)
	return &fixture{repo: repo, driver: d, ctx: ctx}
}

func (f *fixture) refresh(t *testing.T, items ...feed.Item) feed.Result {
	t.Helper()
	res, err := f.repo.Refresh(f.ctx, "demo", &feed.Parsed{Title: "Demo", Items: items})
	require.NoError(t, err)
	return res
}

func (f *fixture) feedIno(t *testing.T) inode.Ino {
	t.Helper()
	a, err := f.driver.Lookup(f.ctx, inode.RootIno, "demo")
	require.NoError(t, err)
	return a.Ino
}

func item(guid, title string, day int) feed.Item {
	return feed.Item{
		GUID:      guid,
		Title:     title,
		Link:      "https://example.com/" + guid,
		Content:   "<p>Body of " + guid + "</p>",
		Published: time.Date(2024, 2, day, 10, 0, 0, 0, time.UTC),
	}
}

func names(entries []DirEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestRootListing(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{})

	entries, err := f.driver.Readdir(f.ctx, inode.RootIno, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{MetaDirName, "demo"}, names(entries))
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Offset)
		assert.Equal(t, DirMode, e.Mode)
	}
}

func TestScenario(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{})
	f.refresh(t, item("a", "First", 1), item("b", "Second", 2), item("c", "Third", 3))

	dir := f.feedIno(t)
	entries, err := f.driver.Readdir(f.ctx, dir, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"First.md", "Second.md", "Third.md"}, names(entries))

	inodesBefore := f.driver.Table().NextIno()

	attr, err := f.driver.Lookup(f.ctx, dir, "Second.md")
	require.NoError(t, err)
	assert.Equal(t, FileMode, attr.Mode)
	assert.Equal(t, time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC), attr.Mtime)

	content, err := f.driver.Content(f.ctx, attr.Ino)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(content)), attr.Size)

	data, err := f.driver.Read(f.ctx, attr.Ino, 0, 1<<20)
	require.NoError(t, err)
	assert.Equal(t, content, data, "read is clipped to content length")

	res := f.refresh(t, item("a", "First", 1), item("b", "Second", 2), item("c", "Third", 3))
	assert.Zero(t, res.Added)

	again, err := f.driver.Readdir(f.ctx, dir, 0)
	require.NoError(t, err)
	assert.Equal(t, entries, again)
	assert.Equal(t, inodesBefore, f.driver.Table().NextIno(), "no new inodes allocated")
}

func TestReadClipping(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{})
	f.refresh(t, item("a", "First", 1))

	attr, err := f.driver.Lookup(f.ctx, f.feedIno(t), "First.md")
	require.NoError(t, err)
	content, err := f.driver.Content(f.ctx, attr.Ino)
	require.NoError(t, err)
	n := int64(len(content))

	tests := []struct {
		name   string
		offset int64
		size   int
		want   []byte
	}{
		{"head", 0, 5, content[:5]},
		{"middle", 3, 4, content[3:7]},
		{"tail overrun", n - 3, 100, content[n-3:]},
		{"at end", n, 10, []byte{}},
		{"past end", n + 100, 10, []byte{}},
		{"zero size", 0, 0, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.driver.Read(f.ctx, attr.Ino, tt.offset, tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReaddirOffsets(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{})
	f.refresh(t, item("a", "A", 1), item("b", "B", 2), item("c", "C", 3))
	dir := f.feedIno(t)

	page, err := f.driver.Readdir(f.ctx, dir, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"B.md", "C.md"}, names(page))
	assert.Equal(t, uint64(2), page[0].Offset)

	page, err = f.driver.Readdir(f.ctx, dir, page[0].Offset)
	require.NoError(t, err)
	assert.Equal(t, []string{"C.md"}, names(page))

	page, err = f.driver.Readdir(f.ctx, dir, 3)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestFilenameCollisions(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{})
	f.refresh(t, item("a", "Same", 1), item("b", "Same", 2), item("c", "Same", 3))

	entries, err := f.driver.Readdir(f.ctx, f.feedIno(t), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Same.md", "Same (2).md", "Same (3).md"}, names(entries))

	// Stable across repeated listings.
	again, err := f.driver.Readdir(f.ctx, f.feedIno(t), 0)
	require.NoError(t, err)
	assert.Equal(t, entries, again)
}

func TestPrunedArticlesLoseInodes(t *testing.T) {
	f := newFixture(t, repository.Config{MaxArticlesPerFeed: 2}, Options{})
	f.refresh(t, item("a", "Old", 1), item("b", "Mid", 2))
	dir := f.feedIno(t)

	old, err := f.driver.Lookup(f.ctx, dir, "Old.md")
	require.NoError(t, err)

	res := f.refresh(t, item("c", "New", 3))
	assert.Equal(t, 1, res.Removed)

	_, ok := f.driver.Table().Lookup(old.Ino)
	assert.False(t, ok, "pruned article inode is removed")

	_, err = f.driver.Getattr(f.ctx, old.Ino)
	assert.Equal(t, syscall.ENOENT, Errno(err))

	entries, err := f.driver.Readdir(f.ctx, dir, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Mid.md", "New.md"}, names(entries))
	for _, e := range entries {
		assert.NotEqual(t, old.Ino, e.Ino, "inode numbers are never reused")
	}
}

func TestFeedLifecycle(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{})
	f.refresh(t, item("a", "A", 1))
	dir := f.feedIno(t)
	_, err := f.driver.Lookup(f.ctx, dir, "A.md")
	require.NoError(t, err)

	require.NoError(t, f.repo.SetFeeds(f.ctx, []feed.Spec{
		{Name: "news", URL: "https://news.example.com/rss", Enabled: true},
	}))

	_, err = f.driver.Lookup(f.ctx, inode.RootIno, "demo")
	assert.Equal(t, syscall.ENOENT, Errno(err))
	_, ok := f.driver.Table().Lookup(dir)
	assert.False(t, ok)

	entries, err := f.driver.Readdir(f.ctx, inode.RootIno, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{MetaDirName, "news"}, names(entries))
}

func TestAttributes(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{UID: 1000, GID: 100})

	root, err := f.driver.Getattr(f.ctx, inode.RootIno)
	require.NoError(t, err)
	assert.True(t, root.IsDir())
	assert.Equal(t, DirMode, root.Mode)
	assert.Equal(t, uint64(DirSize), root.Size)
	assert.Equal(t, uint32(2), root.Nlink)
	assert.Equal(t, uint32(1000), root.UID)
	assert.Equal(t, uint32(100), root.GID)

	f.refresh(t, item("a", "A", 1))
	dir, err := f.driver.Lookup(f.ctx, inode.RootIno, "demo")
	require.NoError(t, err)
	fd, _ := f.repo.Feed("demo")
	assert.Equal(t, fd.LastRefreshed, dir.Mtime)
}

func TestUndatedArticleUsesFetchTime(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{})
	it := item("a", "Undated", 1)
	it.Published = time.Time{}
	before := time.Now()
	f.refresh(t, it)

	attr, err := f.driver.Lookup(f.ctx, f.feedIno(t), "Undated.md")
	require.NoError(t, err)
	assert.False(t, attr.Mtime.Before(before))
}

func TestLookupErrors(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{})
	f.refresh(t, item("a", "A", 1))
	file, err := f.driver.Lookup(f.ctx, f.feedIno(t), "A.md")
	require.NoError(t, err)

	_, err = f.driver.Lookup(f.ctx, inode.RootIno, "missing")
	assert.Equal(t, syscall.ENOENT, Errno(err))

	_, err = f.driver.Lookup(f.ctx, 9999, "x")
	assert.Equal(t, syscall.ENOENT, Errno(err))

	_, err = f.driver.Lookup(f.ctx, file.Ino, "x")
	assert.Equal(t, syscall.ENOTDIR, Errno(err))

	_, err = f.driver.Readdir(f.ctx, file.Ino, 0)
	assert.Equal(t, syscall.ENOTDIR, Errno(err))

	_, err = f.driver.Read(f.ctx, inode.RootIno, 0, 10)
	assert.Equal(t, syscall.EISDIR, Errno(err))
}

func TestReadOnly(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{})
	f.refresh(t, item("a", "A", 1))
	dir := f.feedIno(t)
	file, err := f.driver.Lookup(f.ctx, dir, "A.md")
	require.NoError(t, err)

	h, err := f.driver.Open(f.ctx, file.Ino, os.O_RDONLY)
	require.NoError(t, err)
	assert.Equal(t, Handle(file.Ino), h)

	for _, flags := range []int{os.O_WRONLY, os.O_RDWR, os.O_RDONLY | os.O_TRUNC, os.O_WRONLY | os.O_APPEND} {
		_, err := f.driver.Open(f.ctx, file.Ino, flags)
		assert.Equal(t, syscall.EROFS, Errno(err))
	}

	_, err = f.driver.Write(f.ctx, file.Ino, 0, []byte("x"))
	assert.Equal(t, syscall.EROFS, Errno(err))
	_, err = f.driver.Create(f.ctx, dir, "new.md")
	assert.Equal(t, syscall.EROFS, Errno(err))
	_, err = f.driver.Mkdir(f.ctx, inode.RootIno, "feed")
	assert.Equal(t, syscall.EROFS, Errno(err))
	assert.Equal(t, syscall.EROFS, Errno(f.driver.Unlink(f.ctx, dir, "A.md")))
	assert.Equal(t, syscall.EROFS, Errno(f.driver.Rmdir(f.ctx, inode.RootIno, "demo")))
	assert.Equal(t, syscall.EROFS, Errno(f.driver.Rename(f.ctx, dir, "A.md", dir, "B.md")))
	_, err = f.driver.Setattr(f.ctx, file.Ino)
	assert.Equal(t, syscall.EROFS, Errno(err))

	_, err = f.driver.Open(f.ctx, dir, os.O_RDONLY)
	assert.Equal(t, syscall.EISDIR, Errno(err))
}

func TestMetaDirectory(t *testing.T) {
	calls := 0
	f := newFixture(t, repository.Config{}, Options{
		Files: map[string]ContentFunc{
			"config.yaml": func() ([]byte, error) {
				calls++
				return []byte("calls: " + strings.Repeat("i", calls) + "\n"), nil
			},
		},
	})
	f.refresh(t, item("a", "A", 1))

	meta, err := f.driver.Lookup(f.ctx, inode.RootIno, MetaDirName)
	require.NoError(t, err)
	assert.True(t, meta.IsDir())

	entries, err := f.driver.Readdir(f.ctx, meta.Ino, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"config.yaml", "feeds.yaml", "logs", "stats.yaml"}, names(entries))

	t.Run("rendered live", func(t *testing.T) {
		cfg, err := f.driver.Lookup(f.ctx, meta.Ino, "config.yaml")
		require.NoError(t, err)
		first, err := f.driver.Content(f.ctx, cfg.Ino)
		require.NoError(t, err)
		second, err := f.driver.Content(f.ctx, cfg.Ino)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("feeds.yaml", func(t *testing.T) {
		attr, err := f.driver.Lookup(f.ctx, meta.Ino, "feeds.yaml")
		require.NoError(t, err)
		data, err := f.driver.Content(f.ctx, attr.Ino)
		require.NoError(t, err)

		var report []FeedReport
		require.NoError(t, yaml.Unmarshal(data, &report))
		require.Len(t, report, 1)
		assert.Equal(t, "demo", report[0].Name)
		assert.Equal(t, "active", report[0].Status)
		assert.Equal(t, 1, report[0].Articles)
		assert.NotEmpty(t, report[0].LastRefreshed)
	})

	t.Run("stats.yaml", func(t *testing.T) {
		attr, err := f.driver.Lookup(f.ctx, meta.Ino, "stats.yaml")
		require.NoError(t, err)
		data, err := f.driver.Content(f.ctx, attr.Ino)
		require.NoError(t, err)

		var report StatsReport
		require.NoError(t, yaml.Unmarshal(data, &report))
		assert.Equal(t, 1, report.Repository.Feeds)
		assert.Positive(t, report.Inodes)
	})
}

func TestConcurrentReads(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{})
	f.refresh(t, item("a", "A", 1), item("b", "B", 2), item("c", "C", 3))
	dir := f.feedIno(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				entries, err := f.driver.Readdir(f.ctx, dir, 0)
				if !assert.NoError(t, err) {
					return
				}
				for _, e := range entries {
					_, err := f.driver.Getattr(f.ctx, e.Ino)
					assert.NoError(t, err)
					_, err = f.driver.Read(f.ctx, e.Ino, 0, 64)
					assert.NoError(t, err)
				}
			}
		}()
	}
	wg.Wait()
	// root, .feedfs, its three files, the feed directory and three articles
	assert.Equal(t, 9, f.driver.Table().Len())
}

func TestConcurrentReaddirKeepsInodes(t *testing.T) {
	f := newFixture(t, repository.Config{}, Options{})
	feedIno := f.feedIno(t)

	var (
		mu      sync.Mutex
		seen    = make(map[string]inode.Ino)
		changed int
	)
	done := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				entries, err := f.driver.Readdir(f.ctx, feedIno, 0)
				if err != nil {
					continue
				}
				mu.Lock()
				for _, e := range entries {
					if prev, ok := seen[e.Name]; ok && prev != e.Ino {
						changed++
					}
					seen[e.Name] = e.Ino
				}
				mu.Unlock()
			}
		}()
	}

	var items []feed.Item
	for i := 0; i < 200; i++ {
		guid := "g" + strconv.Itoa(i)
		items = append(items, item(guid, "Post "+guid, i%28+1))
		_, err := f.repo.Refresh(f.ctx, "demo", &feed.Parsed{Items: items})
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	entries, err := f.driver.Readdir(f.ctx, feedIno, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 200)
	for _, e := range entries {
		if prev, ok := seen[e.Name]; ok {
			assert.Equal(t, prev, e.Ino, e.Name)
		}
	}
	assert.Zero(t, changed, "unchanged articles kept their inode numbers")
}
