package feed

import (
	"encoding/hex"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

const (
	// MaxFilenameRunes bounds the title part of an article filename.
	MaxFilenameRunes = 100

	// MaxFilenameBytes bounds the encoded title part so that a collision
	// suffix and the extension still fit in NAME_MAX (255 bytes).
	MaxFilenameBytes = 240

	// FileExtension is appended to every article filename.
	FileExtension = ".md"

	idHexLen = 32
)

// Article is one content item belonging to a feed.
type Article struct {
	ID          string
	FeedID      string
	GUID        string
	Title       string
	Link        string
	Author      string
	Description string
	Body        string
	Tags        []string
	Published   time.Time
	Fetched     time.Time
}

// ArticleID derives the stable identity of an item within a feed.
//
// The guid wins when present; otherwise the link is used, and as a last
// resort the title and publish date.
func ArticleID(feedID, guid, link string) string {
	return articleID(feedID, guid, link, "", time.Time{})
}

func articleID(feedID, guid, link, title string, published time.Time) string {
	h := blake3.New()
	_, _ = h.Write([]byte(feedID))
	_, _ = h.Write([]byte{0})

	switch {
	case strings.TrimSpace(guid) != "":
		_, _ = h.Write([]byte("guid\x00"))
		_, _ = h.Write([]byte(strings.TrimSpace(guid)))
	case strings.TrimSpace(link) != "":
		_, _ = h.Write([]byte("link\x00"))
		_, _ = h.Write([]byte(strings.TrimSpace(link)))
	default:
		_, _ = h.Write([]byte("title\x00"))
		_, _ = h.Write([]byte(title))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(published.UTC().Format(time.RFC3339)))
	}

	return hex.EncodeToString(h.Sum(nil))[:idHexLen]
}

// NewArticle binds a parsed item to feedID.
func NewArticle(feedID string, item Item, fetched time.Time) *Article {
	published := item.Published
	if published.IsZero() {
		published = item.Updated
	}

	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}

	tags := make([]string, len(item.Tags))
	copy(tags, item.Tags)

	return &Article{
		ID:          articleID(feedID, item.GUID, item.Link, item.Title, published),
		FeedID:      feedID,
		GUID:        item.GUID,
		Title:       strings.TrimSpace(item.Title),
		Link:        strings.TrimSpace(item.Link),
		Author:      item.Author,
		Description: item.Description,
		Body:        body,
		Tags:        tags,
		Published:   published,
		Fetched:     fetched,
	}
}

// Timestamp is the publish date, falling back to the fetch time.
func (a *Article) Timestamp() time.Time {
	if !a.Published.IsZero() {
		return a.Published
	}
	return a.Fetched
}

// Filename is the directory entry name for the article, before any
// per-directory collision suffix.
func (a *Article) Filename() string {
	return SanitizeFilename(a.Title) + FileExtension
}

// Fingerprint hashes every field that influences rendered content. Two
// fetches of the same article with equal fingerprints render identically.
func (a *Article) Fingerprint() string {
	h := blake3.New()
	for _, field := range []string{a.Title, a.Link, a.Author, a.Description, a.Body} {
		_, _ = h.Write([]byte(field))
		_, _ = h.Write([]byte{0})
	}
	for _, tag := range a.Tags {
		_, _ = h.Write([]byte(tag))
		_, _ = h.Write([]byte{1})
	}
	_, _ = h.Write([]byte(a.Published.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))[:idHexLen]
}

// SanitizeFilename makes title usable as a single path component.
func SanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r == utf8.RuneError:
			b.WriteRune('-')
		case unicode.IsControl(r):
			b.WriteRune('-')
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}

	name := strings.TrimSpace(b.String())
	name = strings.Trim(name, ".")
	if name == "" {
		name = "untitled"
	}

	if utf8.RuneCountInString(name) > MaxFilenameRunes || len(name) > MaxFilenameBytes {
		name = strings.TrimSpace(truncate(name, MaxFilenameRunes-3, MaxFilenameBytes-3)) + "..."
	}
	return name
}

// truncate cuts s on a rune boundary to at most maxRunes runes and
// maxBytes bytes.
func truncate(s string, maxRunes, maxBytes int) string {
	n := 0
	for i, r := range s {
		if n == maxRunes || i+utf8.RuneLen(r) > maxBytes {
			return s[:i]
		}
		n++
	}
	return s
}
