// Package store defines the durable storage contract used by the
// repository.
//
// A Storage is a flat byte-value map keyed by "{feed_id}:{article_id}".
// Implementations live in subpackages (memory, badger, s3) and share the
// contract test suite in store/testing.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
// Backends wrap their native not-found errors so callers can use errors.Is.
var ErrNotFound = errors.New("key not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// KeySeparator separates the feed id from the article id in a key.
const KeySeparator = ":"

// Storage is the durable collaborator of the repository.
//
// Thread Safety:
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns the value stored under key, or an error wrapping
	// ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key belonging to feedID in ascending key order.
	List(ctx context.Context, feedID string) ([]string, error)

	// Close releases backend resources.
	Close() error
}

// Key builds the storage key for an article.
func Key(feedID, articleID string) string {
	return feedID + KeySeparator + articleID
}

// FeedPrefix is the key prefix shared by all of a feed's articles.
func FeedPrefix(feedID string) string {
	return feedID + KeySeparator
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (feedID, articleID string, ok bool) {
	i := strings.LastIndex(key, KeySeparator)
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
