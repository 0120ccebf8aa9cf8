package inode

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasRoot(t *testing.T) {
	table := New()

	root, ok := table.Lookup(RootIno)
	require.True(t, ok)
	assert.Equal(t, "/", root.Path)
	assert.Equal(t, KindRoot, root.Type.Kind)
	assert.True(t, root.IsDir())

	byPath, ok := table.LookupPath("/")
	require.True(t, ok)
	assert.Equal(t, RootIno, byPath.Ino)
	assert.Equal(t, 1, table.Len())
}

func TestRegisterAndLookup(t *testing.T) {
	table := New()

	feedIno, err := table.Register("/demo", FeedDir("demo"))
	require.NoError(t, err)
	artIno, err := table.RegisterChild(feedIno, "hello.md", ArticleFile("demo", "a1"))
	require.NoError(t, err)

	entry, ok := table.LookupPath("/demo/hello.md")
	require.True(t, ok)
	assert.Equal(t, artIno, entry.Ino)
	assert.Equal(t, feedIno, entry.Parent)
	assert.Equal(t, "a1", entry.Type.ArticleID)

	byIno, ok := table.Lookup(artIno)
	require.True(t, ok)
	assert.Equal(t, "/demo/hello.md", byIno.Path)

	child, ok := table.LookupChild(feedIno, "hello.md")
	require.True(t, ok)
	assert.Equal(t, artIno, child.Ino)

	_, ok = table.LookupChild(feedIno, "missing.md")
	assert.False(t, ok)
	_, ok = table.LookupChild(artIno, "x")
	assert.False(t, ok, "files have no children")
}

func TestRegisterIsIdempotentForSameType(t *testing.T) {
	table := New()

	first, err := table.Register("/demo", FeedDir("demo"))
	require.NoError(t, err)
	second, err := table.Register("/demo/", FeedDir("demo"))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = table.Register("/demo", SystemDir())
	assert.ErrorIs(t, err, ErrExists)
}

func TestRegisterErrors(t *testing.T) {
	table := New()
	feedIno, err := table.Register("/demo", FeedDir("demo"))
	require.NoError(t, err)
	fileIno, err := table.RegisterChild(feedIno, "a.md", ArticleFile("demo", "a"))
	require.NoError(t, err)

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"relative path", func() error { _, err := table.Register("demo", FeedDir("x")); return err }, ErrBadName},
		{"missing parent", func() error { _, err := table.Register("/nope/a.md", ArticleFile("x", "y")); return err }, ErrNotFound},
		{"file parent", func() error { _, err := table.RegisterChild(fileIno, "x", ArticleFile("x", "y")); return err }, ErrNotDir},
		{"slash in name", func() error { _, err := table.RegisterChild(feedIno, "a/b", ArticleFile("x", "y")); return err }, ErrBadName},
		{"dot name", func() error { _, err := table.RegisterChild(feedIno, "..", ArticleFile("x", "y")); return err }, ErrBadName},
		{"root", func() error { _, err := table.Register("/", SystemDir()); return err }, ErrExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}
}

func TestChildrenInsertionOrder(t *testing.T) {
	table := New()
	feedIno, err := table.Register("/demo", FeedDir("demo"))
	require.NoError(t, err)

	names := []string{"zeta.md", "alpha.md", "mid.md"}
	for i, name := range names {
		_, err := table.RegisterChild(feedIno, name, ArticleFile("demo", fmt.Sprint(i)))
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		children, err := table.Children(feedIno)
		require.NoError(t, err)
		got := make([]string, len(children))
		for j, c := range children {
			got[j] = c.Name
		}
		assert.Equal(t, names, got, "order must be stable across calls")
	}

	_, err = table.Children(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChildrenIsSnapshot(t *testing.T) {
	table := New()
	feedIno, _ := table.Register("/demo", FeedDir("demo"))
	_, _ = table.RegisterChild(feedIno, "a.md", ArticleFile("demo", "a"))

	snapshot, err := table.Children(feedIno)
	require.NoError(t, err)

	_, _ = table.RegisterChild(feedIno, "b.md", ArticleFile("demo", "b"))
	assert.Len(t, snapshot, 1)
}

func TestRemoveSubtreeNeverReusesInos(t *testing.T) {
	table := New()
	seen := make(map[Ino]bool)

	for round := 0; round < 5; round++ {
		feedIno, err := table.Register("/demo", FeedDir("demo"))
		require.NoError(t, err)
		require.False(t, seen[feedIno], "ino %d reused", feedIno)
		seen[feedIno] = true

		for i := 0; i < 3; i++ {
			ino, err := table.RegisterChild(feedIno, fmt.Sprintf("%d.md", i), ArticleFile("demo", fmt.Sprint(i)))
			require.NoError(t, err)
			require.False(t, seen[ino], "ino %d reused", ino)
			seen[ino] = true
		}

		removed, err := table.RemoveSubtree(feedIno)
		require.NoError(t, err)
		assert.Len(t, removed, 4)
		assert.Equal(t, feedIno, removed[len(removed)-1].Ino, "directory reported last")
	}

	assert.Equal(t, 1, table.Len())
	_, ok := table.LookupPath("/demo")
	assert.False(t, ok)
}

func TestRemoveSubtreeDetachesFromParent(t *testing.T) {
	table := New()
	feedIno, _ := table.Register("/demo", FeedDir("demo"))
	a, _ := table.RegisterChild(feedIno, "a.md", ArticleFile("demo", "a"))
	_, _ = table.RegisterChild(feedIno, "b.md", ArticleFile("demo", "b"))

	removed, err := table.RemoveSubtree(a)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "a", removed[0].Type.ArticleID)

	children, err := table.Children(feedIno)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "b.md", children[0].Name)

	_, ok := table.Lookup(a)
	assert.False(t, ok)

	again, err := table.RegisterChild(feedIno, "a.md", ArticleFile("demo", "a"))
	require.NoError(t, err)
	assert.NotEqual(t, a, again)
}

func TestRemoveSubtreeErrors(t *testing.T) {
	table := New()

	_, err := table.RemoveSubtree(RootIno)
	assert.ErrorIs(t, err, ErrRoot)

	_, err = table.RemoveSubtree(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAllocateIsMonotonic(t *testing.T) {
	table := New()
	a := table.Allocate()
	b := table.Allocate()
	assert.Greater(t, b, a)
	assert.Equal(t, b+1, table.NextIno())

	ino, err := table.Register("/demo", FeedDir("demo"))
	require.NoError(t, err)
	assert.Greater(t, ino, b)
}

func TestConcurrentRegisterDistinctInos(t *testing.T) {
	table := New()
	feedIno, err := table.Register("/demo", FeedDir("demo"))
	require.NoError(t, err)

	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	results := make(chan Ino, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				name := fmt.Sprintf("%d-%d.md", w, i)
				ino, err := table.RegisterChild(feedIno, name, ArticleFile("demo", name))
				if err == nil {
					results <- ino
				}
				_, _ = table.LookupPath("/demo/" + name)
			}
		}(w)
	}
	wg.Wait()
	close(results)

	seen := make(map[Ino]bool)
	for ino := range results {
		assert.False(t, seen[ino])
		seen[ino] = true
	}
	assert.Len(t, seen, workers*perWorker)
}
