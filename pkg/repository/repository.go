// Package repository unifies the content cache with durable storage and
// owns feed state: the registry of subscribed feeds, the ordered article
// set of each, and the merge and retention logic applied on refresh.
//
// Read path: Content consults the cache, then storage, and never fetches.
// Refresh path: Refresh merges a parsed feed under a per-feed lock, so two
// merges of the same feed never interleave while different feeds proceed
// in parallel.
package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/feedfs/internal/logger"
	"github.com/marmos91/feedfs/pkg/cache"
	"github.com/marmos91/feedfs/pkg/codec"
	"github.com/marmos91/feedfs/pkg/feed"
	"github.com/marmos91/feedfs/pkg/render"
	"github.com/marmos91/feedfs/pkg/store"
)

// Config holds repository configuration.
type Config struct {
	// MaxArticlesPerFeed bounds each feed's article set; the oldest by
	// publish date are pruned beyond it. Zero means unbounded.
	MaxArticlesPerFeed int

	// CacheTTL is the TTL used when rendered content is cached. Zero uses
	// the cache default.
	CacheTTL time.Duration
}

// Listener is notified of structural changes so the filesystem can keep
// its inode table in step. Callbacks run synchronously on the goroutine
// that made the change and must not call back into Refresh or SetFeeds.
type Listener interface {
	FeedAdded(feedID string)
	FeedRemoved(feedID string)
	ArticlesRemoved(feedID string, articleIDs []string)
}

// ArticleInfo is the in-memory index entry of a stored article: enough to
// name and date a file without touching storage.
type ArticleInfo struct {
	ID          string
	FeedID      string
	Title       string
	Published   time.Time
	Fetched     time.Time
	Fingerprint string
}

func infoOf(a *feed.Article) ArticleInfo {
	return ArticleInfo{
		ID:          a.ID,
		FeedID:      a.FeedID,
		Title:       a.Title,
		Published:   a.Published,
		Fetched:     a.Fetched,
		Fingerprint: a.Fingerprint(),
	}
}

// Timestamp is the publish date, falling back to the fetch time.
func (i ArticleInfo) Timestamp() time.Time {
	if !i.Published.IsZero() {
		return i.Published
	}
	return i.Fetched
}

// Filename is the directory entry name before collision suffixes.
func (i ArticleInfo) Filename() string {
	return feed.SanitizeFilename(i.Title) + feed.FileExtension
}

type feedState struct {
	// lock serialises Refresh, RecordFailure and LoadFromStorage for this
	// feed. Never acquire Repository.mu before it.
	lock sync.Mutex

	// feed and index are guarded by Repository.mu.
	feed  *feed.Feed
	index map[string]ArticleInfo
}

// Stats is a point-in-time view of repository activity.
type Stats struct {
	Feeds           int         `yaml:"feeds"`
	Articles        int         `yaml:"articles"`
	CacheHits       uint64      `yaml:"cache_hits"`
	CacheMisses     uint64      `yaml:"cache_misses"`
	StorageReads    uint64      `yaml:"storage_reads"`
	StorageWrites   uint64      `yaml:"storage_writes"`
	StorageDeletes  uint64      `yaml:"storage_deletes"`
	StorageErrors   uint64      `yaml:"storage_errors"`
	Refreshes       uint64      `yaml:"refreshes"`
	RefreshFailures uint64      `yaml:"refresh_failures"`
	Cache           cache.Stats `yaml:"cache"`
}

type counters struct {
	cacheHits       atomic.Uint64
	cacheMisses     atomic.Uint64
	storageReads    atomic.Uint64
	storageWrites   atomic.Uint64
	storageDeletes  atomic.Uint64
	storageErrors   atomic.Uint64
	refreshes       atomic.Uint64
	refreshFailures atomic.Uint64
}

// Repository is the single owner of feed and article state.
//
// Thread Safety:
// mu guards the feed registry and every feed's metadata. Per-feed locks
// serialise merges. The cache is internally synchronised; cache writes and
// invalidations of an article happen under mu so that they are ordered
// against index commits. The cache never calls back into the repository.
type Repository struct {
	mu    sync.RWMutex
	feeds map[string]*feedState
	order []string

	cache    *cache.Cache
	storage  store.Storage
	codec    *codec.Codec
	renderer *render.Renderer
	cfg      Config

	listenersMu sync.RWMutex
	listeners   []Listener

	counters counters
	now      func() time.Time
}

// New creates a repository over storage. Nil cache, codec or renderer are
// replaced by defaults.
func New(cfg Config, storage store.Storage, c *cache.Cache, cd *codec.Codec, rd *render.Renderer) *Repository {
	if c == nil {
		c = cache.New(cache.DefaultConfig(), nil)
	}
	if cd == nil {
		cd = codec.New(false)
	}
	if rd == nil {
		rd = render.New(render.Options{})
	}

	return &Repository{
		feeds:    make(map[string]*feedState),
		cache:    c,
		storage:  storage,
		codec:    cd,
		renderer: rd,
		cfg:      cfg,
		now:      time.Now,
	}
}

// AddListener registers l for structural change notifications.
func (r *Repository) AddListener(l Listener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Repository) notify(fn func(Listener)) {
	r.listenersMu.RLock()
	ls := append([]Listener(nil), r.listeners...)
	r.listenersMu.RUnlock()

	for _, l := range ls {
		fn(l)
	}
}

// ============================================================================
// Feed registry
// ============================================================================

// Feeds returns snapshots of all feeds in registration order.
func (r *Repository) Feeds() []*feed.Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*feed.Feed, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.feeds[id].feed.Clone())
	}
	return out
}

// Feed returns a snapshot of one feed.
func (r *Repository) Feed(feedID string) (*feed.Feed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.feeds[feedID]
	if !ok {
		return nil, NewError(ErrNotFound, "feed not found", feedID)
	}
	return st.feed.Clone(), nil
}

// Articles returns the index entries of a feed's articles in insertion
// order.
func (r *Repository) Articles(feedID string) ([]ArticleInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.feeds[feedID]
	if !ok {
		return nil, NewError(ErrNotFound, "feed not found", feedID)
	}

	out := make([]ArticleInfo, 0, len(st.feed.Articles))
	for _, id := range st.feed.Articles {
		out = append(out, st.index[id])
	}
	return out, nil
}

// Article returns the index entry of one article.
func (r *Repository) Article(feedID, articleID string) (ArticleInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.feeds[feedID]
	if !ok {
		return ArticleInfo{}, NewError(ErrNotFound, "feed not found", feedID)
	}
	info, ok := st.index[articleID]
	if !ok {
		return ArticleInfo{}, NewError(ErrNotFound, "article not found", feedID)
	}
	return info, nil
}

// MarkUpdating flips the feed's status to Updating. Disabled feeds keep
// their status.
func (r *Repository) MarkUpdating(feedID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.feeds[feedID]
	if !ok {
		return NewError(ErrNotFound, "feed not found", feedID)
	}
	if st.feed.Status.Kind != feed.StatusDisabled {
		st.feed.Status = feed.Updating()
	}
	return nil
}

// RecordFailure marks the feed as failed. Articles and every other field
// are left untouched.
func (r *Repository) RecordFailure(feedID string, cause error) error {
	st, err := r.lockFeed(feedID)
	if err != nil {
		return err
	}
	defer st.lock.Unlock()

	r.recordFailureLocked(st, cause)
	return nil
}

func (r *Repository) recordFailureLocked(st *feedState, cause error) {
	r.counters.refreshFailures.Add(1)

	r.mu.Lock()
	st.feed.Status = feed.Failed(cause)
	r.mu.Unlock()

	logger.Warn("Refresh of feed %s failed: %v", st.feed.ID, cause)
}

// lockFeed acquires the feed's merge lock and confirms the feed is still
// registered once it holds it.
func (r *Repository) lockFeed(feedID string) (*feedState, error) {
	r.mu.RLock()
	st, ok := r.feeds[feedID]
	r.mu.RUnlock()
	if !ok {
		return nil, NewError(ErrNotFound, "feed not found", feedID)
	}

	st.lock.Lock()

	r.mu.RLock()
	current := r.feeds[feedID]
	r.mu.RUnlock()
	if current != st {
		st.lock.Unlock()
		return nil, NewError(ErrNotFound, "feed removed", feedID)
	}
	return st, nil
}

// ============================================================================
// Read path
// ============================================================================

// Content returns the rendered bytes of an article: from the cache when
// present, otherwise loaded from storage, rendered and cached. A storage
// failure degrades to NotFound.
func (r *Repository) Content(ctx context.Context, feedID, articleID string) ([]byte, error) {
	key := store.Key(feedID, articleID)

	if data, ok := r.cache.Get(key); ok {
		r.counters.cacheHits.Add(1)
		return data, nil
	}
	r.counters.cacheMisses.Add(1)

	a, err := r.GetArticle(ctx, feedID, articleID)
	if err != nil {
		return nil, err
	}

	data, err := r.renderer.Render(a)
	if err != nil {
		return nil, &Error{Code: ErrStorageFailure, Message: err.Error(), Feed: feedID}
	}

	// Only cache a rendering of the record the index currently describes.
	// A refresh that committed while we were reading has already dropped
	// the entry, and caching the stale record would outlive it.
	r.mu.RLock()
	if st, ok := r.feeds[feedID]; ok {
		if info, ok := st.index[articleID]; ok && info.Fingerprint == a.Fingerprint() {
			r.cache.Put(key, data, r.cfg.CacheTTL)
		}
	}
	r.mu.RUnlock()
	return data, nil
}

// GetArticle loads and decodes an article from storage, bypassing the
// content cache.
func (r *Repository) GetArticle(ctx context.Context, feedID, articleID string) (*feed.Article, error) {
	key := store.Key(feedID, articleID)

	r.counters.storageReads.Add(1)
	raw, err := r.storage.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.counters.storageErrors.Add(1)
			logger.Warn("Storage read of %s failed: %v", key, err)
		}
		return nil, NewError(ErrNotFound, "article not found", feedID)
	}

	a, err := r.codec.Decode(raw)
	if err != nil {
		r.counters.storageErrors.Add(1)
		logger.Warn("Stored article %s is unreadable: %v", key, err)
		return nil, NewError(ErrNotFound, "article not found", feedID)
	}
	return a, nil
}

// ============================================================================
// Refresh path
// ============================================================================

// Refresh merges a freshly fetched feed.
//
// Articles whose identity is new are stored and appended; known articles
// with an unchanged fingerprint are left alone; known articles whose
// content changed are rewritten and their cached rendering dropped. The
// feed becomes Active only if every storage write succeeds. On failure
// the article set is unchanged and the status becomes Error.
func (r *Repository) Refresh(ctx context.Context, feedID string, parsed *feed.Parsed) (feed.Result, error) {
	start := r.now()
	result := feed.Result{FeedID: feedID}

	st, err := r.lockFeed(feedID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}
	defer st.lock.Unlock()

	r.counters.refreshes.Add(1)

	if parsed == nil {
		err := NewError(ErrInvalidArgument, "nothing to merge", feedID)
		r.recordFailureLocked(st, err)
		result.Error = err.Error()
		return result, err
	}

	// ========================================================================
	// Step 1: Classify fetched articles against the current index
	// ========================================================================

	r.mu.RLock()
	order := append([]string(nil), st.feed.Articles...)
	index := make(map[string]ArticleInfo, len(st.index)+len(parsed.Items))
	for id, info := range st.index {
		index[id] = info
	}
	r.mu.RUnlock()

	var added, updated []*feed.Article
	seen := make(map[string]struct{}, len(parsed.Items))
	for _, item := range parsed.Items {
		a := feed.NewArticle(feedID, item, start)
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}

		info, known := index[a.ID]
		switch {
		case !known:
			added = append(added, a)
		case info.Fingerprint != a.Fingerprint():
			// Keep the first-seen fetch time so undated articles do not
			// jump in the retention order.
			a.Fetched = info.Fetched
			updated = append(updated, a)
		}
	}

	// ========================================================================
	// Step 2: Write new and changed articles
	// ========================================================================

	var undo []priorValue
	for _, a := range added {
		key := store.Key(feedID, a.ID)
		undo = append(undo, priorValue{key: key})
		if err := r.put(ctx, a); err != nil {
			r.rollback(ctx, undo)
			return r.failStorage(st, result, err)
		}
		order = append(order, a.ID)
		index[a.ID] = infoOf(a)
	}

	for _, a := range updated {
		key := store.Key(feedID, a.ID)
		prior, err := r.storage.Get(ctx, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.counters.storageErrors.Add(1)
			r.rollback(ctx, undo)
			return r.failStorage(st, result, err)
		}
		undo = append(undo, priorValue{key: key, value: prior})
		if err := r.put(ctx, a); err != nil {
			r.rollback(ctx, undo)
			return r.failStorage(st, result, err)
		}
		index[a.ID] = infoOf(a)
	}

	// ========================================================================
	// Step 3: Apply retention
	// ========================================================================

	pruned := r.retain(order, index)
	if len(pruned) > 0 {
		keep := make([]string, 0, len(order)-len(pruned))
		prunedSet := make(map[string]struct{}, len(pruned))
		for _, id := range pruned {
			prunedSet[id] = struct{}{}
			delete(index, id)
		}
		for _, id := range order {
			if _, drop := prunedSet[id]; !drop {
				keep = append(keep, id)
			}
		}
		order = keep
	}

	// ========================================================================
	// Step 4: Commit feed metadata
	// ========================================================================

	// Cached renderings are dropped under the write lock so that a
	// concurrent Content miss holding the old record cannot cache it.
	r.mu.Lock()
	st.feed.Articles = order
	st.index = index
	if st.feed.Status.Kind != feed.StatusDisabled {
		st.feed.Status = feed.Active()
	}
	st.feed.LastRefreshed = r.now()
	if parsed.Title != "" {
		st.feed.Title = parsed.Title
	}
	for _, a := range updated {
		r.cache.Remove(store.Key(feedID, a.ID))
	}
	for _, id := range pruned {
		r.cache.Remove(store.Key(feedID, id))
	}
	r.mu.Unlock()

	for _, id := range pruned {
		key := store.Key(feedID, id)
		r.counters.storageDeletes.Add(1)
		if err := r.storage.Delete(ctx, key); err != nil {
			r.counters.storageErrors.Add(1)
			logger.Warn("Failed to delete pruned article %s: %v", key, err)
		}
	}

	if len(pruned) > 0 {
		r.notify(func(l Listener) { l.ArticlesRemoved(feedID, pruned) })
	}

	result.Success = true
	result.Added = len(added)
	result.Updated = len(updated)
	result.Removed = len(pruned)
	result.Duration = r.now().Sub(start)

	logger.Debug("Merged feed %s: %s", feedID, result)
	return result, nil
}

func (r *Repository) put(ctx context.Context, a *feed.Article) error {
	data, err := r.codec.Encode(a)
	if err != nil {
		return err
	}
	r.counters.storageWrites.Add(1)
	if err := r.storage.Put(ctx, store.Key(a.FeedID, a.ID), data); err != nil {
		r.counters.storageErrors.Add(1)
		return err
	}
	return nil
}

// priorValue is what a key held before a merge wrote it. A nil value
// means the key did not exist.
type priorValue struct {
	key   string
	value []byte
}

// rollback restores every key touched by a merge that is being abandoned,
// newest first. It runs even when ctx is already cancelled.
func (r *Repository) rollback(ctx context.Context, undo []priorValue) {
	ctx = context.WithoutCancel(ctx)
	for i := len(undo) - 1; i >= 0; i-- {
		p := undo[i]
		var err error
		if p.value == nil {
			r.counters.storageDeletes.Add(1)
			err = r.storage.Delete(ctx, p.key)
		} else {
			r.counters.storageWrites.Add(1)
			err = r.storage.Put(ctx, p.key, p.value)
		}
		if err != nil {
			r.counters.storageErrors.Add(1)
			logger.Warn("Rollback of %s failed: %v", p.key, err)
		}
	}
}

func (r *Repository) failStorage(st *feedState, result feed.Result, cause error) (feed.Result, error) {
	err := &Error{
		Code:    ErrStorageFailure,
		Message: fmt.Sprintf("storage write failed: %v", cause),
		Feed:    st.feed.ID,
	}
	r.recordFailureLocked(st, err)
	result.Error = err.Error()
	return result, err
}

// retain returns the ids to prune so that at most MaxArticlesPerFeed
// remain, oldest by timestamp first. Ties go to the earlier-inserted
// article.
func (r *Repository) retain(order []string, index map[string]ArticleInfo) []string {
	limit := r.cfg.MaxArticlesPerFeed
	if limit <= 0 || len(order) <= limit {
		return nil
	}

	byAge := append([]string(nil), order...)
	sort.SliceStable(byAge, func(i, j int) bool {
		return index[byAge[i]].Timestamp().Before(index[byAge[j]].Timestamp())
	})
	return byAge[:len(order)-limit]
}

// ============================================================================
// Administrative path
// ============================================================================

// SetFeeds replaces the feed list. New feeds are registered empty, feeds
// missing from specs are removed along with their stored articles, and
// surviving feeds pick up URL and enabled changes without losing articles.
func (r *Repository) SetFeeds(ctx context.Context, specs []feed.Spec) error {
	if err := validateSpecs(specs); err != nil {
		return err
	}

	var added []string
	var removed []*feedState

	r.mu.Lock()
	wanted := make(map[string]struct{}, len(specs))
	order := make([]string, 0, len(specs))
	for _, spec := range specs {
		wanted[spec.Name] = struct{}{}
		order = append(order, spec.Name)

		st, exists := r.feeds[spec.Name]
		if !exists {
			f := &feed.Feed{
				ID:      spec.Name,
				URL:     spec.URL,
				Enabled: spec.Enabled,
				Status:  feed.Active(),
			}
			if !spec.Enabled {
				f.Status = feed.Disabled()
			}
			r.feeds[spec.Name] = &feedState{feed: f, index: make(map[string]ArticleInfo)}
			added = append(added, spec.Name)
			continue
		}

		st.feed.URL = spec.URL
		switch {
		case !spec.Enabled:
			st.feed.Status = feed.Disabled()
		case !st.feed.Enabled:
			st.feed.Status = feed.Active()
		}
		st.feed.Enabled = spec.Enabled
	}
	for _, id := range r.order {
		if _, keep := wanted[id]; !keep {
			removed = append(removed, r.feeds[id])
			delete(r.feeds, id)
		}
	}
	r.order = order
	r.mu.Unlock()

	for _, st := range removed {
		r.purge(ctx, st)
		id := st.feed.ID
		r.notify(func(l Listener) { l.FeedRemoved(id) })
		logger.Info("Removed feed %s", id)
	}
	for _, id := range added {
		r.notify(func(l Listener) { l.FeedAdded(id) })
		logger.Info("Registered feed %s", id)
	}
	return nil
}

// purge waits for any in-flight merge of a removed feed, then deletes its
// stored articles and cached renderings.
func (r *Repository) purge(ctx context.Context, st *feedState) {
	st.lock.Lock()
	defer st.lock.Unlock()

	id := st.feed.ID
	keys, err := r.storage.List(ctx, id)
	if err != nil {
		r.counters.storageErrors.Add(1)
		logger.Warn("Failed to list articles of removed feed %s: %v", id, err)
	}
	for _, key := range keys {
		r.counters.storageDeletes.Add(1)
		if err := r.storage.Delete(ctx, key); err != nil {
			r.counters.storageErrors.Add(1)
			logger.Warn("Failed to delete %s: %v", key, err)
		}
	}
	r.cache.RemovePrefix(store.FeedPrefix(id))
}

func validateSpecs(specs []feed.Spec) error {
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		if err := ValidateFeedName(spec.Name); err != nil {
			return err
		}
		if spec.URL == "" {
			return NewError(ErrInvalidArgument, "feed URL is required", spec.Name)
		}
		if _, dup := seen[spec.Name]; dup {
			return NewError(ErrInvalidArgument, "duplicate feed name", spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}
	return nil
}

// ValidateFeedName checks that name can serve as a directory name and a
// storage key prefix. Names starting with "." are reserved.
func ValidateFeedName(name string) error {
	switch {
	case name == "":
		return NewError(ErrInvalidArgument, "feed name is empty", name)
	case name[0] == '.':
		return NewError(ErrInvalidArgument, "feed name must not start with '.'", name)
	}
	for _, c := range name {
		if c == '/' || c == 0 || c == ':' {
			return NewError(ErrInvalidArgument, fmt.Sprintf("feed name contains %q", c), name)
		}
	}
	return nil
}

// ============================================================================
// Warm restart
// ============================================================================

// LoadFromStorage rebuilds every feed's article set from storage, so a
// durable backend serves articles before the first refresh. Articles are
// ordered by timestamp. It returns the number of articles loaded.
func (r *Repository) LoadFromStorage(ctx context.Context) (int, error) {
	r.mu.RLock()
	ids := append([]string(nil), r.order...)
	r.mu.RUnlock()

	total := 0
	var firstErr error
	for _, id := range ids {
		n, err := r.loadFeed(ctx, id)
		total += n
		if err != nil {
			logger.Warn("Warm restart of feed %s: %v", id, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	logger.Info("Loaded %d stored articles across %d feeds", total, len(ids))
	return total, firstErr
}

func (r *Repository) loadFeed(ctx context.Context, feedID string) (int, error) {
	st, err := r.lockFeed(feedID)
	if err != nil {
		return 0, err
	}
	defer st.lock.Unlock()

	keys, err := r.storage.List(ctx, feedID)
	if err != nil {
		r.counters.storageErrors.Add(1)
		return 0, &Error{Code: ErrStorageFailure, Message: fmt.Sprintf("list failed: %v", err), Feed: feedID}
	}

	loaded := make([]ArticleInfo, 0, len(keys))
	for _, key := range keys {
		_, articleID, ok := store.SplitKey(key)
		if !ok {
			continue
		}
		a, err := r.GetArticle(ctx, feedID, articleID)
		if err != nil {
			continue
		}
		loaded = append(loaded, infoOf(a))
	}
	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].Timestamp().Before(loaded[j].Timestamp())
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, info := range loaded {
		if _, known := st.index[info.ID]; known {
			continue
		}
		st.index[info.ID] = info
		st.feed.Articles = append(st.feed.Articles, info.ID)
		n++
	}
	return n, nil
}

// ============================================================================
// Introspection
// ============================================================================

// Stats returns repository counters plus cache statistics.
func (r *Repository) Stats() Stats {
	r.mu.RLock()
	feeds := len(r.order)
	articles := 0
	for _, st := range r.feeds {
		articles += len(st.feed.Articles)
	}
	r.mu.RUnlock()

	return Stats{
		Feeds:           feeds,
		Articles:        articles,
		CacheHits:       r.counters.cacheHits.Load(),
		CacheMisses:     r.counters.cacheMisses.Load(),
		StorageReads:    r.counters.storageReads.Load(),
		StorageWrites:   r.counters.storageWrites.Load(),
		StorageDeletes:  r.counters.storageDeletes.Load(),
		StorageErrors:   r.counters.storageErrors.Load(),
		Refreshes:       r.counters.refreshes.Load(),
		RefreshFailures: r.counters.refreshFailures.Load(),
		Cache:           r.cache.Stats(),
	}
}

// Cache exposes the content cache for maintenance (periodic Cleanup).
func (r *Repository) Cache() *cache.Cache {
	return r.cache
}
