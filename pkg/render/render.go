// Package render turns stored articles into the bytes an article file
// exposes: a YAML frontmatter block, a title heading, and the body
// converted from HTML to text.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/marmos91/feedfs/pkg/feed"
	"gopkg.in/yaml.v3"
)

// TruncationMarker ends a body cut short by MaxSize.
const TruncationMarker = "\n\n[... truncated]\n"

// Options control rendering.
type Options struct {
	// MaxSize caps the rendered body in bytes. Zero means unlimited.
	MaxSize int
}

// Renderer renders articles. The zero value renders without a size cap.
type Renderer struct {
	opts Options
}

// New returns a renderer.
func New(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

type frontmatter struct {
	Title  string   `yaml:"title"`
	Author string   `yaml:"author,omitempty"`
	Date   string   `yaml:"date,omitempty"`
	URL    string   `yaml:"url,omitempty"`
	Feed   string   `yaml:"feed"`
	Tags   []string `yaml:"tags,omitempty"`
	GUID   string   `yaml:"guid,omitempty"`
}

// Render produces the markdown document for a. The output is a pure
// function of the article fields, so equal fingerprints render equal bytes.
func (r *Renderer) Render(a *feed.Article) ([]byte, error) {
	title := strings.TrimSpace(a.Title)
	if title == "" {
		title = "Untitled"
	}

	fm := frontmatter{
		Title:  title,
		Author: strings.TrimSpace(a.Author),
		URL:    a.Link,
		Feed:   a.FeedID,
		Tags:   a.Tags,
		GUID:   a.GUID,
	}
	if ts := a.Timestamp(); !ts.IsZero() {
		fm.Date = ts.UTC().Format(time.RFC3339)
	}

	head, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("render frontmatter for %s: %w", a.ID, err)
	}

	body := HTMLToText(a.Body)
	if body == "" {
		body = HTMLToText(a.Description)
	}
	body = r.truncate(body)

	var buf bytes.Buffer
	buf.Grow(len(head) + len(title) + len(body) + 16)
	buf.WriteString("---\n")
	buf.Write(head)
	buf.WriteString("---\n\n# ")
	buf.WriteString(title)
	buf.WriteString("\n")
	if body != "" {
		buf.WriteString("\n")
		buf.WriteString(body)
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

// truncate cuts body to MaxSize bytes on a rune boundary.
func (r *Renderer) truncate(body string) string {
	limit := r.opts.MaxSize
	if limit <= 0 || len(body) <= limit {
		return body
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return strings.TrimRight(body[:cut], " \n") + TruncationMarker
}
